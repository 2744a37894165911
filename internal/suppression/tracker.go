// Package suppression decides when a proposed action repeats recent
// behaviour often enough that it must not be executed.
package suppression

import (
	"fmt"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/action"
)

// Policy holds the suppression thresholds. A threshold is the number of
// consecutive occurrences that may still execute; the next one is blocked.
type Policy struct {
	IdenticalThreshold int
	ScrapeThreshold    int
	// MaxFailuresPerAction blocks an action signature once it has failed this
	// many times in the session. Zero disables the limit.
	MaxFailuresPerAction int
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{IdenticalThreshold: 2, ScrapeThreshold: 2, MaxFailuresPerAction: 2}
}

// Reason names the rule that blocked an action.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonIdentical  Reason = "identical_repeat"
	ReasonScrape     Reason = "consecutive_scrape"
	ReasonRetryLimit Reason = "retry_limit"
)

// Decision is the outcome of checking one proposed action.
type Decision struct {
	Blocked        bool
	Reason         Reason
	Message        string
	IdenticalCount int
	ScrapeCount    int
}

// State is a read-only snapshot of the tracker's counters.
type State struct {
	LastAction                schemas.Action
	ConsecutiveIdenticalCount int
	ConsecutiveScrapeCount    int
}

// Tracker holds the suppression state of exactly one session. It is not safe
// for concurrent use and must never be shared between sessions.
type Tracker struct {
	policy    Policy
	hasLast   bool
	lastKey   string
	last      schemas.Action
	identical int
	scrapes   int
	failures  map[string]int
}

// NewTracker creates a tracker with empty counters.
func NewTracker(policy Policy) *Tracker {
	return &Tracker{
		policy:   policy,
		failures: make(map[string]int),
	}
}

// Check updates the counters for a proposed action and reports whether it
// must be blocked. Counters advance for every proposal, blocked or not, so a
// planner that keeps insisting keeps being refused.
func (t *Tracker) Check(a schemas.Action) Decision {
	key := action.Key(a)
	if t.hasLast && key == t.lastKey {
		t.identical++
	} else {
		t.identical = 1
		t.lastKey = key
		t.last = a
		t.hasLast = true
	}

	if a.Kind == schemas.ActionScrape {
		t.scrapes++
	} else {
		t.scrapes = 0
	}

	d := Decision{IdenticalCount: t.identical, ScrapeCount: t.scrapes}
	switch {
	case t.identical > t.policy.IdenticalThreshold:
		d.Blocked = true
		d.Reason = ReasonIdentical
		d.Message = fmt.Sprintf("suppressed: %s proposed %d times in a row (limit %d); choose a different action",
			a, t.identical, t.policy.IdenticalThreshold)
	case a.Kind == schemas.ActionScrape && t.scrapes > t.policy.ScrapeThreshold:
		d.Blocked = true
		d.Reason = ReasonScrape
		d.Message = fmt.Sprintf("suppressed: %d scrapes in a row (limit %d); act on the content already scraped",
			t.scrapes, t.policy.ScrapeThreshold)
	case t.policy.MaxFailuresPerAction > 0 && t.failures[action.Signature(a)] >= t.policy.MaxFailuresPerAction:
		d.Blocked = true
		d.Reason = ReasonRetryLimit
		d.Message = fmt.Sprintf("suppressed: %s already failed %d times; try another approach",
			a, t.failures[action.Signature(a)])
	}
	return d
}

// RecordOutcome notes whether an executed action succeeded. Failures count
// toward the per-signature retry limit.
func (t *Tracker) RecordOutcome(a schemas.Action, success bool) {
	if success {
		return
	}
	t.failures[action.Signature(a)]++
}

// State returns a snapshot of the counters.
func (t *Tracker) State() State {
	return State{
		LastAction:                t.last,
		ConsecutiveIdenticalCount: t.identical,
		ConsecutiveScrapeCount:    t.scrapes,
	}
}

// Policy returns the thresholds in force.
func (t *Tracker) Policy() Policy { return t.policy }
