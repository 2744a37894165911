package schemas

import (
	"context"
	"errors"
)

// -- Sentinel Errors --

var (
	// ErrMalformedPlan marks planner output that could not be decoded into a
	// structured plan at all. Sessions treat it like a validation failure.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrSurfaceCrashed indicates the browser process behind a surface is gone.
	ErrSurfaceCrashed = errors.New("browser surface crashed")
	// ErrSurfaceClosed is returned when an action is sent to a closed surface.
	ErrSurfaceClosed = errors.New("browser surface closed")
	// ErrPlannerUnavailable wraps a planner failure that survived its retries.
	ErrPlannerUnavailable = errors.New("planner unavailable")
)

// -- Planner --

// RawPlan is the untyped structured output of a planner for one round.
type RawPlan map[string]any

// PlanContext is everything a planner is shown when proposing the next action.
type PlanContext struct {
	AgentID       string
	Goal          string
	StepBudget    int
	Round         int
	RecentHistory []HistoryEntry
}

// SummaryContext carries the material for a synthesis call. A per-session
// summary sets History; a run summary sets Sessions.
type SummaryContext struct {
	Goal     string
	History  []HistoryEntry
	Sessions []SessionResult
}

// Planner proposes actions and writes summaries.
type Planner interface {
	// Plan returns one raw plan for the next round.
	Plan(ctx context.Context, pc PlanContext) (RawPlan, error)
	// Summarize produces a short synthesis of the supplied material.
	Summarize(ctx context.Context, sc SummaryContext) (string, error)
}

// -- Browser Surface --

// BrowserSurface executes actions against one exclusively owned browser.
// Ordinary page conditions such as a missing element or a slow load are
// reported through a failed Observation with a nil error. A non-nil error is
// reserved for faults of the surface itself (ErrSurfaceCrashed,
// ErrSurfaceClosed) or context expiry.
type BrowserSurface interface {
	Execute(ctx context.Context, action Action) (Observation, error)
	Close(ctx context.Context) error
}

// SurfaceFactory creates a fresh, unshared browser surface for an agent.
type SurfaceFactory interface {
	NewSurface(ctx context.Context, agentID string) (BrowserSurface, error)
}

// -- LLM Client --

// ModelTier allows for selecting a large language model based on a preference
// for speed versus advanced capabilities.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Planning turns.
	TierPowerful ModelTier = "powerful" // Summaries.
)

// GenerationOptions controls sampling and output format.
type GenerationOptions struct {
	Temperature     float64 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
	TopP            float64 `json:"top_p"`
	MaxTokens       int     `json:"max_tokens"`
	// SkipRetries makes a single provider attempt; the caller retries itself.
	SkipRetries bool `json:"skip_retries"`
}

// GenerationRequest encapsulates a complete request to the LLM, including the
// system and user prompts, the desired model tier, and generation options.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient defines a standard interface for interacting with a Large Language
// Model, abstracting the specifics of the underlying provider.
type LLMClient interface {
	// Generate produces a text completion based on the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
	// Close cleans up any resources held by the client.
	Close() error
}
