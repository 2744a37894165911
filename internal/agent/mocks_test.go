package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/relevance"
	"github.com/xkilldash9x/scout-cli/internal/suppression"
)

// -- Planner Mock --

type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, pc schemas.PlanContext) (schemas.RawPlan, error) {
	args := m.Called(ctx, pc)
	plan, _ := args.Get(0).(schemas.RawPlan)
	return plan, args.Error(1)
}

func (m *MockPlanner) Summarize(ctx context.Context, sc schemas.SummaryContext) (string, error) {
	args := m.Called(ctx, sc)
	return args.String(0), args.Error(1)
}

// -- Browser Surface Mock --

type MockBrowserSurface struct {
	mock.Mock
}

func (m *MockBrowserSurface) Execute(ctx context.Context, a schemas.Action) (schemas.Observation, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(schemas.Observation), args.Error(1)
}

func (m *MockBrowserSurface) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- LLM Client Mock --

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Scripted fakes --

// scriptedPlanner answers round n with plans[n] and records every context.
type scriptedPlanner struct {
	mu       sync.Mutex
	plans    []schemas.RawPlan
	contexts []schemas.PlanContext
	summary  string
	sumErr   error
}

func (p *scriptedPlanner) Plan(_ context.Context, pc schemas.PlanContext) (schemas.RawPlan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contexts = append(p.contexts, pc)
	if pc.Round < len(p.plans) {
		return p.plans[pc.Round], nil
	}
	return p.plans[len(p.plans)-1], nil
}

func (p *scriptedPlanner) Summarize(context.Context, schemas.SummaryContext) (string, error) {
	return p.summary, p.sumErr
}

// okSurface succeeds for every action and counts calls.
type okSurface struct {
	mu       sync.Mutex
	executed []schemas.Action
	respond  func(schemas.Action) schemas.Observation
}

func (s *okSurface) Execute(_ context.Context, a schemas.Action) (schemas.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, a)
	if s.respond != nil {
		return s.respond(a), nil
	}
	return schemas.Observation{Kind: schemas.ObservationExecuted, Success: true, URL: "https://duckduckgo.com/"}, nil
}

func (s *okSurface) Close(context.Context) error { return nil }

// -- Helpers --

func nav(url string) schemas.RawPlan { return schemas.RawPlan{"type": "navigate", "url": url} }
func scrape(scope string) schemas.RawPlan {
	return schemas.RawPlan{"type": "scrape", "scope": scope}
}
func click(target string) schemas.RawPlan {
	return schemas.RawPlan{"type": "click", "selector_or_description": target}
}
func stop() schemas.RawPlan { return schemas.RawPlan{"type": "stop", "reason": "done"} }

func testConfig(budget int) SessionConfig {
	return SessionConfig{
		AgentID:      "agent-1",
		Goal:         "find latest AI news",
		StepBudget:   budget,
		Policy:       suppression.DefaultPolicy(),
		Relevance:    relevance.ModeLoose,
		RoundTimeout: 2 * time.Second,
		PlanRetries:  1,
	}
}

func newTestSession(t *testing.T, cfg SessionConfig, planner schemas.Planner, surface schemas.BrowserSurface) (*Session, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	s, err := NewSession(cfg, planner, surface, zap.New(core),
		WithTokenCounter(HeuristicCounter{}),
		WithBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	require.NoError(t, err)
	return s, logs
}
