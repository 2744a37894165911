// File: internal/orchestrator/orchestrator.go
// Description: Runs one goal across N isolated agent sessions and assembles
// the run result. It is injected with the planner and the surface factory via
// interfaces, so it never touches a browser or a model directly.

package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/agent"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/relevance"
	"github.com/xkilldash9x/scout-cli/internal/suppression"
)

// surfaceCloseTimeout bounds the shutdown of one browser surface.
const surfaceCloseTimeout = 10 * time.Second

// RunRequest is one invocation: run(goal, agent_count, step_budget, summarize).
type RunRequest struct {
	Goal       string
	Agents     int
	StepBudget int
	// SummarizeSessions requests a summary per session.
	SummarizeSessions bool
	// SummarizeRun requests one combined summary over all sessions.
	SummarizeRun bool
}

// Validate rejects requests that must not start any session.
func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Goal) == "" {
		return fmt.Errorf("goal must not be empty")
	}
	if r.Agents < 1 {
		return fmt.Errorf("agent count must be at least 1, got %d", r.Agents)
	}
	if r.StepBudget < 1 {
		return fmt.Errorf("step budget must be at least 1, got %d", r.StepBudget)
	}
	return nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records session outcomes, including sessions that never started.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
		o.sessionOpts = append(o.sessionOpts, agent.WithMetrics(m))
	}
}

// WithSessionOptions passes options through to every session.
func WithSessionOptions(opts ...agent.Option) Option {
	return func(o *Orchestrator) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// Orchestrator coordinates concurrent, fully isolated agent sessions.
type Orchestrator struct {
	cfg         config.Interface
	logger      *zap.Logger
	baseLogger  *zap.Logger
	planner     schemas.Planner
	surfaces    schemas.SurfaceFactory
	metrics     *observability.Metrics
	sessionOpts []agent.Option
	now         func() time.Time
}

// New creates a new Orchestrator with its dependencies provided as interfaces.
func New(cfg config.Interface, logger *zap.Logger, planner schemas.Planner, surfaces schemas.SurfaceFactory, opts ...Option) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		planner == nil ||
		surfaces == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
		baseLogger: logger,
		planner:    planner,
		surfaces:   surfaces,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes every session to DONE and returns the aggregate. The only
// error is a rejected request; per-session failures are reported through
// each SessionResult, and partial results survive cancellation.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (schemas.RunResult, error) {
	if err := req.Validate(); err != nil {
		return schemas.RunResult{}, fmt.Errorf("invalid run request: %w", err)
	}

	runID := uuid.NewString()
	logger := o.logger.With(zap.String("run_id", runID))
	result := schemas.RunResult{
		RunID:      runID,
		Goal:       req.Goal,
		StepBudget: req.StepBudget,
		StartedAt:  o.now(),
	}

	limit := o.cfg.Run().MaxParallel
	if limit <= 0 || limit > req.Agents {
		limit = req.Agents
	}
	logger.Info("Starting run",
		zap.String("goal", req.Goal),
		zap.Int("agents", req.Agents),
		zap.Int("step_budget", req.StepBudget),
		zap.Int("max_parallel", limit))

	// Each goroutine writes only its own slot.
	sessions := make([]schemas.SessionResult, req.Agents)
	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < req.Agents; i++ {
		g.Go(func() error {
			sessions[i] = o.runAgent(ctx, fmt.Sprintf("agent-%d", i+1), req)
			return nil
		})
	}
	_ = g.Wait()
	result.Sessions = sessions

	if req.SummarizeRun {
		result.Summary = o.summarizeRun(ctx, req.Goal, sessions)
	}
	result.FinishedAt = o.now()

	counts := result.StatusCounts()
	logger.Info("Run finished",
		zap.Int("completed", counts[schemas.StatusCompleted]),
		zap.Int("exhausted_steps", counts[schemas.StatusExhaustedSteps]),
		zap.Int("aborted", counts[schemas.StatusAborted]),
		zap.Duration("duration", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

// runAgent owns one browser surface for the whole session and always
// produces a result, even when the surface cannot be created or the session
// panics.
func (o *Orchestrator) runAgent(ctx context.Context, agentID string, req RunRequest) (res schemas.SessionResult) {
	logger := o.logger.With(zap.String("agent_id", agentID))
	startedAt := o.now()
	aborted := func(reason string) schemas.SessionResult {
		o.metrics.RecordSession(string(schemas.StatusAborted))
		return schemas.SessionResult{
			AgentID:     agentID,
			Status:      schemas.StatusAborted,
			AbortReason: reason,
			StartedAt:   startedAt,
			FinishedAt:  o.now(),
		}
	}

	surface, err := o.surfaces.NewSurface(ctx, agentID)
	if err != nil {
		logger.Error("Failed to create browser surface", zap.Error(err))
		return aborted(fmt.Sprintf("browser surface unavailable: %v", err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), surfaceCloseTimeout)
		defer cancel()
		if err := surface.Close(closeCtx); err != nil {
			logger.Warn("Failed to close browser surface", zap.Error(err))
		}
	}()
	var session *agent.Session
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in agent session",
				zap.Any("panic_value", r),
				zap.ByteString("stack", debug.Stack()))
			res = aborted(fmt.Sprintf("panic: %v", r))
			// Rounds recorded before the panic are kept.
			if session != nil {
				res.SessionID = session.ID()
				res.History = session.History()
			}
		}
	}()

	session, err = agent.NewSession(o.sessionConfig(agentID, req), o.planner, surface, o.baseLogger, o.sessionOpts...)
	if err != nil {
		return aborted(err.Error())
	}
	return session.Run(ctx)
}

func (o *Orchestrator) sessionConfig(agentID string, req RunRequest) agent.SessionConfig {
	run := o.cfg.Run()
	sup := o.cfg.Suppression()
	mode, err := relevance.ParseMode(run.RelevanceMode)
	if err != nil {
		o.logger.Warn("Unknown relevance mode, using loose", zap.String("mode", run.RelevanceMode))
		mode = relevance.ModeLoose
	}
	return agent.SessionConfig{
		AgentID:    agentID,
		Goal:       req.Goal,
		StepBudget: req.StepBudget,
		Policy: suppression.Policy{
			IdenticalThreshold:   sup.IdenticalThreshold,
			ScrapeThreshold:      sup.ScrapeThreshold,
			MaxFailuresPerAction: sup.MaxFailuresPerAction,
		},
		Relevance:          mode,
		Summarize:          req.SummarizeSessions,
		RoundTimeout:       run.RoundTimeout,
		SessionTimeout:     run.SessionTimeout,
		HistoryWindow:      run.HistoryWindow,
		ContextTokenBudget: run.ContextTokenBudget,
		PlanRetries:        run.PlanRetries,
		PlanRetryBackoff:   run.PlanRetryBackoff,
	}
}

// summarizeRun makes one planner call over all sessions. Failure degrades to
// schemas.NoSummary.
func (o *Orchestrator) summarizeRun(ctx context.Context, goal string, sessions []schemas.SessionResult) string {
	if ctx.Err() != nil {
		return schemas.NoSummary
	}
	if timeout := o.cfg.Run().RoundTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := o.planner.Summarize(ctx, schemas.SummaryContext{Goal: goal, Sessions: sessions})
	o.metrics.RecordPlannerCall("summarize_run", err, time.Since(start))
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("Run summary unavailable", zap.Error(err))
		return schemas.NoSummary
	}
	return strings.TrimSpace(text)
}
