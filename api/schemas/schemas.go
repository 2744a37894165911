package schemas

import (
	"fmt"
	"time"
)

// -- Actions --

// ActionKind enumerates the closed set of actions a planner may propose.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionScrape   ActionKind = "scrape"
	ActionStop     ActionKind = "stop"
)

// ActionKinds lists every valid kind in a stable order.
var ActionKinds = []ActionKind{ActionNavigate, ActionClick, ActionType, ActionScrape, ActionStop}

// Action is a single validated instruction for a browser surface. Only the
// fields relevant to Kind are populated.
type Action struct {
	Kind   ActionKind `json:"type" yaml:"type"`
	URL    string     `json:"url,omitempty" yaml:"url,omitempty"`
	Target string     `json:"selector_or_description,omitempty" yaml:"selector_or_description,omitempty"`
	Text   string     `json:"text,omitempty" yaml:"text,omitempty"`
	Submit bool       `json:"submit,omitempty" yaml:"submit,omitempty"`
	Scope  string     `json:"scope,omitempty" yaml:"scope,omitempty"`
	Reason string     `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// String renders the action in a compact call-like form for logs and prompts.
func (a Action) String() string {
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate(%s)", a.URL)
	case ActionClick:
		return fmt.Sprintf("click(%s)", a.Target)
	case ActionType:
		if a.Submit {
			return fmt.Sprintf("type(%s, %q, submit)", a.Target, a.Text)
		}
		return fmt.Sprintf("type(%s, %q)", a.Target, a.Text)
	case ActionScrape:
		return fmt.Sprintf("scrape(%s)", a.Scope)
	case ActionStop:
		return fmt.Sprintf("stop(%s)", a.Reason)
	default:
		return fmt.Sprintf("%s(?)", a.Kind)
	}
}

// -- Observations --

// ObservationKind records how an observation came to exist.
type ObservationKind string

const (
	// ObservationExecuted is produced by a browser surface.
	ObservationExecuted ObservationKind = "executed"
	// ObservationInvalidPlan is synthesized when a plan fails validation.
	ObservationInvalidPlan ObservationKind = "invalid_plan"
	// ObservationSuppressed is synthesized when the suppression policy blocks an action.
	ObservationSuppressed ObservationKind = "suppressed"
	// ObservationStopped records the planner's decision to end the session.
	ObservationStopped ObservationKind = "stopped"
)

// Link is a visible link candidate on a page.
type Link struct {
	Text    string `json:"text" yaml:"text"`
	Href    string `json:"href" yaml:"href"`
	Visited bool   `json:"visited,omitempty" yaml:"visited,omitempty"`
}

// Observation is the immutable outcome of one action.
type Observation struct {
	Kind    ObservationKind `json:"kind" yaml:"kind"`
	Success bool            `json:"success" yaml:"success"`
	URL     string          `json:"url,omitempty" yaml:"url,omitempty"`
	Title   string          `json:"title,omitempty" yaml:"title,omitempty"`
	Text    string          `json:"text,omitempty" yaml:"text,omitempty"`
	Links   []Link          `json:"links,omitempty" yaml:"links,omitempty"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// FailedObservation builds an unsuccessful observation of the given kind.
func FailedObservation(kind ObservationKind, format string, args ...any) Observation {
	return Observation{
		Kind:    kind,
		Success: false,
		Error:   fmt.Sprintf(format, args...),
	}
}

// -- History --

// HistoryEntry is one round of a session's audit trail.
type HistoryEntry struct {
	Round       int         `json:"round" yaml:"round"`
	Action      Action      `json:"action" yaml:"action"`
	Observation Observation `json:"observation" yaml:"observation"`
	Suppressed  bool        `json:"suppressed" yaml:"suppressed"`
	Timestamp   time.Time   `json:"timestamp" yaml:"timestamp"`
}

// -- Results --

// SessionStatus is the terminal status of a session.
type SessionStatus string

const (
	StatusCompleted      SessionStatus = "completed"
	StatusExhaustedSteps SessionStatus = "exhausted_steps"
	StatusAborted        SessionStatus = "aborted"
)

// NoSummary is reported in place of a summary that could not be produced.
const NoSummary = "no summary available"

// SessionResult is the frozen outcome of one agent session.
type SessionResult struct {
	AgentID     string         `json:"agent_id" yaml:"agent_id"`
	SessionID   string         `json:"session_id" yaml:"session_id"`
	Status      SessionStatus  `json:"status" yaml:"status"`
	AbortReason string         `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	History     []HistoryEntry `json:"history" yaml:"history"`
	Summary     string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time      `json:"finished_at" yaml:"finished_at"`
}

// HasSummary reports whether a summary was produced for the session.
func (r SessionResult) HasSummary() bool { return r.Summary != "" && r.Summary != NoSummary }

// RunResult aggregates every session of a single invocation.
type RunResult struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	Goal       string          `json:"goal" yaml:"goal"`
	StepBudget int             `json:"step_budget" yaml:"step_budget"`
	Sessions   []SessionResult `json:"sessions" yaml:"sessions"`
	Summary    string          `json:"summary,omitempty" yaml:"summary,omitempty"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
}

// StatusCounts tallies sessions by terminal status.
func (r RunResult) StatusCounts() map[SessionStatus]int {
	counts := make(map[SessionStatus]int, 3)
	for _, s := range r.Sessions {
		counts[s.Status]++
	}
	return counts
}
