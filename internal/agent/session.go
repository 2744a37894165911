package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/action"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/relevance"
	"github.com/xkilldash9x/scout-cli/internal/suppression"
)

// SessionConfig fixes everything a session needs at creation.
type SessionConfig struct {
	AgentID    string
	Goal       string
	StepBudget int
	Policy     suppression.Policy
	Relevance  relevance.Mode
	Summarize  bool
	// RoundTimeout bounds each planner call and each surface call.
	RoundTimeout time.Duration
	// SessionTimeout bounds the whole session. Expiry aborts it.
	SessionTimeout time.Duration
	// HistoryWindow is how many recent entries the planner sees. Zero means all.
	HistoryWindow int
	// ContextTokenBudget caps the rendered size of that window. Zero disables.
	ContextTokenBudget int
	// PlanRetries is the number of extra attempts after a failed planner call.
	PlanRetries      int
	PlanRetryBackoff time.Duration
}

// Validate rejects configurations that can never run.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Goal) == "" {
		return fmt.Errorf("goal must not be empty")
	}
	if c.StepBudget < 1 {
		return fmt.Errorf("step budget must be at least 1, got %d", c.StepBudget)
	}
	if c.PlanRetries < 0 {
		return fmt.Errorf("plan retries must not be negative")
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithMetrics records round and session outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTokenCounter replaces the default tiktoken counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(s *Session) { s.counter = c }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithBackoff replaces the plan retry schedule.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(s *Session) { s.backoffFactory = factory }
}

// Session is the control loop of one agent. It owns its browser surface,
// suppression tracker and history exclusively.
type Session struct {
	cfg            SessionConfig
	id             string
	planner        schemas.Planner
	surface        schemas.BrowserSurface
	tracker        *suppression.Tracker
	filter         *relevance.Filter
	counter        TokenCounter
	logger         *zap.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	now            func() time.Time
	backoffFactory func() backoff.BackOff

	mu      sync.RWMutex
	state   State
	round   int
	history []schemas.HistoryEntry
	// planView mirrors history with scrape observations filtered for relevance.
	planView []schemas.HistoryEntry
	started  bool
}

// NewSession creates a session in the PLANNING state at round 0.
func NewSession(cfg SessionConfig, planner schemas.Planner, surface schemas.BrowserSurface, logger *zap.Logger, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if planner == nil || surface == nil {
		return nil, fmt.Errorf("session requires a planner and a browser surface")
	}

	id := uuid.NewString()
	s := &Session{
		cfg:     cfg,
		id:      id,
		planner: planner,
		surface: surface,
		tracker: suppression.NewTracker(cfg.Policy),
		filter:  relevance.New(cfg.Goal, cfg.Relevance),
		logger:  logger.Named("session").With(zap.String("agent_id", cfg.AgentID), zap.String("session_id", id)),
		tracer:  observability.Tracer("agent"),
		now:     time.Now,
		state:   StatePlanning,
	}
	s.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(cfg.PlanRetryBackoff)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = NewTiktokenCounter(logger)
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Round returns the index the next history entry will get.
func (s *Session) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// Run drives the session to DONE and returns its frozen result. It never
// returns early without a result; cancellation of ctx aborts the session.
// A session runs at most once.
func (s *Session) Run(ctx context.Context) schemas.SessionResult {
	startedAt := s.now()
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return schemas.SessionResult{
			AgentID: s.cfg.AgentID, SessionID: s.id, Status: schemas.StatusAborted,
			AbortReason: "session already ran", StartedAt: startedAt, FinishedAt: startedAt,
		}
	}
	s.started = true
	s.mu.Unlock()

	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("agent_id", s.cfg.AgentID),
		attribute.String("session_id", s.id),
		attribute.Int("step_budget", s.cfg.StepBudget),
	))
	defer span.End()

	s.metrics.SessionStarted()
	defer s.metrics.SessionFinished()
	s.logger.Info("Session started", zap.String("goal", s.cfg.Goal), zap.Int("step_budget", s.cfg.StepBudget))

	status, reason := s.loop(ctx)

	s.transition(StateTerminating)
	result := schemas.SessionResult{
		AgentID:     s.cfg.AgentID,
		SessionID:   s.id,
		Status:      status,
		AbortReason: reason,
		History:     s.History(),
		StartedAt:   startedAt,
	}

	if s.cfg.Summarize {
		s.transition(StateSummarizing)
		result.Summary = s.summarize(ctx, result.History)
	}

	s.transition(StateDone)
	result.FinishedAt = s.now()

	s.metrics.RecordSession(string(status))
	span.SetAttributes(attribute.String("status", string(status)), attribute.Int("rounds", len(result.History)))
	if status == schemas.StatusAborted {
		span.SetStatus(codes.Error, reason)
	}
	s.logger.Info("Session finished",
		zap.String("status", string(status)),
		zap.Int("rounds", len(result.History)),
		zap.String("abort_reason", reason),
		zap.Duration("duration", result.FinishedAt.Sub(startedAt)),
	)
	return result
}

// History returns a copy of the unfiltered history.
func (s *Session) History() []schemas.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schemas.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// loop runs rounds until a terminal status is determined.
func (s *Session) loop(ctx context.Context) (schemas.SessionStatus, string) {
	for {
		if err := ctx.Err(); err != nil {
			return schemas.StatusAborted, abortReason(err)
		}
		if done, status, reason := s.runRound(ctx); done {
			return status, reason
		}
		if s.Round() >= s.cfg.StepBudget {
			return schemas.StatusExhaustedSteps, ""
		}
	}
}

// runRound performs one PLAN to OBSERVE cycle. Every path that does not end
// the session appends exactly one history entry.
func (s *Session) runRound(ctx context.Context) (done bool, status schemas.SessionStatus, reason string) {
	round := s.Round()
	ctx, span := s.tracer.Start(ctx, "session.round", trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()
	logger := s.logger.With(zap.Int("round", round))

	// -- PLANNING --
	s.transition(StatePlanning)
	raw, planErr := s.plan(ctx)

	// -- VALIDATING --
	s.transition(StateValidating)
	var act schemas.Action
	var err error
	switch {
	case planErr == nil:
		act, err = action.Validate(raw)
	case errors.Is(planErr, schemas.ErrMalformedPlan):
		err = planErr
	case ctx.Err() != nil:
		return true, schemas.StatusAborted, abortReason(ctx.Err())
	case errors.Is(planErr, context.DeadlineExceeded):
		logger.Warn("Planner timed out", zap.Duration("round_timeout", s.cfg.RoundTimeout))
		s.append(schemas.Action{}, schemas.FailedObservation(schemas.ObservationInvalidPlan,
			"planner timed out after %s", s.cfg.RoundTimeout), false)
		s.metrics.RecordRound(observability.OutcomeInvalid)
		span.SetStatus(codes.Error, "planner timeout")
		return false, "", ""
	default:
		logger.Error("Planner failed after retries", zap.Error(planErr))
		span.SetStatus(codes.Error, "planner unavailable")
		return true, schemas.StatusAborted, fmt.Sprintf("%v: %v", schemas.ErrPlannerUnavailable, planErr)
	}
	if err != nil {
		logger.Warn("Rejected planner output", zap.Error(err))
		s.append(rejectedAction(raw), schemas.FailedObservation(schemas.ObservationInvalidPlan, "%v", err), false)
		s.metrics.RecordRound(observability.OutcomeInvalid)
		return false, "", ""
	}
	act = action.Normalize(act)
	span.SetAttributes(attribute.String("action", string(act.Kind)))

	// -- SUPPRESSION_CHECK --
	s.transition(StateSuppressionCheck)
	decision := s.tracker.Check(act)
	if decision.Blocked {
		logger.Info("Action suppressed",
			zap.Stringer("action", act),
			zap.String("reason", string(decision.Reason)),
			zap.Int("identical_count", decision.IdenticalCount),
			zap.Int("scrape_count", decision.ScrapeCount))
		s.append(act, schemas.Observation{Kind: schemas.ObservationSuppressed, Error: decision.Message}, true)
		s.metrics.RecordRound(observability.OutcomeSuppressed)
		return false, "", ""
	}
	if act.Kind == schemas.ActionStop {
		logger.Info("Planner stopped the session", zap.String("reason", act.Reason))
		s.append(act, schemas.Observation{Kind: schemas.ObservationStopped, Success: true, Text: act.Reason}, false)
		s.metrics.RecordRound(observability.OutcomeStopped)
		return true, schemas.StatusCompleted, ""
	}

	// -- EXECUTING --
	s.transition(StateExecuting)
	obs, fatal := s.execute(ctx, act)
	if fatal != nil {
		if ctx.Err() != nil {
			return true, schemas.StatusAborted, abortReason(ctx.Err())
		}
		logger.Error("Browser surface failed", zap.Error(fatal))
		span.SetStatus(codes.Error, "surface failure")
		return true, schemas.StatusAborted, fatal.Error()
	}

	// -- OBSERVING --
	s.transition(StateObserving)
	s.tracker.RecordOutcome(act, obs.Success)
	s.append(act, obs, false)
	if obs.Success {
		s.metrics.RecordRound(observability.OutcomeExecuted)
	} else {
		s.metrics.RecordRound(observability.OutcomeFailed)
	}
	logger.Debug("Action executed", zap.Stringer("action", act), zap.Bool("success", obs.Success), zap.String("url", obs.URL))
	return false, "", ""
}

// plan calls the planner with the configured retries. Malformed output and
// parent cancellation are not retried.
func (s *Session) plan(ctx context.Context) (schemas.RawPlan, error) {
	pc := s.planContext()
	var raw schemas.RawPlan
	operation := func() error {
		rctx, cancel := s.roundContext(ctx)
		defer cancel()
		start := time.Now()
		p, err := s.planner.Plan(rctx, pc)
		s.metrics.RecordPlannerCall("plan", err, time.Since(start))
		if err != nil {
			if errors.Is(err, schemas.ErrMalformedPlan) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			s.logger.Warn("Planner call failed", zap.Int("round", pc.Round), zap.Error(err))
			return err
		}
		raw = p
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(s.backoffFactory(), uint64(s.cfg.PlanRetries)), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return raw, nil
}

// execute runs one action. Only faults of the surface itself and parent
// cancellation are returned as errors; everything else becomes a failed
// observation.
func (s *Session) execute(ctx context.Context, act schemas.Action) (schemas.Observation, error) {
	rctx, cancel := s.roundContext(ctx)
	defer cancel()

	obs, err := s.surface.Execute(rctx, act)
	switch {
	case err == nil:
		if obs.Kind == "" {
			obs.Kind = schemas.ObservationExecuted
		}
		return obs, nil
	case errors.Is(err, schemas.ErrSurfaceCrashed), errors.Is(err, schemas.ErrSurfaceClosed):
		return schemas.Observation{}, err
	case ctx.Err() != nil:
		return schemas.Observation{}, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.FailedObservation(schemas.ObservationExecuted, "%s timed out after %s", act.Kind, s.cfg.RoundTimeout), nil
	default:
		return schemas.FailedObservation(schemas.ObservationExecuted, "%v", err), nil
	}
}

func (s *Session) summarize(ctx context.Context, history []schemas.HistoryEntry) string {
	if ctx.Err() != nil {
		return schemas.NoSummary
	}
	sctx, cancel := s.roundContext(ctx)
	defer cancel()
	start := time.Now()
	text, err := s.planner.Summarize(sctx, schemas.SummaryContext{Goal: s.cfg.Goal, History: history})
	s.metrics.RecordPlannerCall("summarize", err, time.Since(start))
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("Session summary unavailable", zap.Error(err))
		return schemas.NoSummary
	}
	return strings.TrimSpace(text)
}

// planContext builds the planner's view: the filtered tail of history,
// limited by window and token budget.
func (s *Session) planContext() schemas.PlanContext {
	s.mu.RLock()
	view := tail(s.planView, s.cfg.HistoryWindow)
	recent := make([]schemas.HistoryEntry, len(view))
	copy(recent, view)
	round := s.round
	s.mu.RUnlock()

	return schemas.PlanContext{
		AgentID:       s.cfg.AgentID,
		Goal:          s.cfg.Goal,
		StepBudget:    s.cfg.StepBudget,
		Round:         round,
		RecentHistory: trimToBudget(recent, s.counter, s.cfg.ContextTokenBudget),
	}
}

// append records one entry and advances the round.
func (s *Session) append(act schemas.Action, obs schemas.Observation, suppressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := schemas.HistoryEntry{
		Round:       s.round,
		Action:      act,
		Observation: obs,
		Suppressed:  suppressed,
		Timestamp:   s.now(),
	}
	s.history = append(s.history, entry)
	if act.Kind == schemas.ActionScrape && obs.Success {
		entry.Observation = s.filter.Apply(obs)
	}
	s.planView = append(s.planView, entry)
	s.round++
}

// transition moves to next unless the session is already winding down and
// next is a loop state.
func (s *Session) transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == next {
		return
	}
	if s.state.Terminal() || (s.state.afterTermination() && !next.afterTermination()) {
		s.logger.Warn("Ignoring state transition after termination",
			zap.String("current_state", string(s.state)),
			zap.String("attempted_state", string(next)))
		return
	}
	s.logger.Debug("Session state transition", zap.String("from", string(s.state)), zap.String("to", string(next)))
	s.state = next
}

func (s *Session) roundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RoundTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RoundTimeout)
}

// rejectedAction keeps whatever kind the planner asked for so the next
// prompt shows what was refused.
func rejectedAction(raw schemas.RawPlan) schemas.Action {
	if k, ok := raw["type"].(string); ok {
		return schemas.Action{Kind: schemas.ActionKind(strings.TrimSpace(k))}
	}
	return schemas.Action{}
}

func abortReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "session timed out"
	}
	return "session canceled"
}
