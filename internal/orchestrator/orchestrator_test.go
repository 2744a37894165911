// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/agent"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakePlanner struct {
	plan      func(pc schemas.PlanContext) (schemas.RawPlan, error)
	summarize func(sc schemas.SummaryContext) (string, error)
}

func (p *fakePlanner) Plan(_ context.Context, pc schemas.PlanContext) (schemas.RawPlan, error) {
	return p.plan(pc)
}

func (p *fakePlanner) Summarize(_ context.Context, sc schemas.SummaryContext) (string, error) {
	if p.summarize == nil {
		return "", errors.New("not configured")
	}
	return p.summarize(sc)
}

type fakeSurface struct {
	agentID  string
	executed atomic.Int32
	closed   atomic.Bool
	execute  func(agentID string, a schemas.Action) (schemas.Observation, error)
}

func (s *fakeSurface) Execute(_ context.Context, a schemas.Action) (schemas.Observation, error) {
	s.executed.Add(1)
	if s.execute != nil {
		return s.execute(s.agentID, a)
	}
	return schemas.Observation{Success: true}, nil
}

func (s *fakeSurface) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

type fakeFactory struct {
	mu       sync.Mutex
	surfaces map[string]*fakeSurface
	fail     map[string]error
	execute  func(agentID string, a schemas.Action) (schemas.Observation, error)
}

func (f *fakeFactory) NewSurface(_ context.Context, agentID string) (schemas.BrowserSurface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[agentID]; err != nil {
		return nil, err
	}
	if f.surfaces == nil {
		f.surfaces = make(map[string]*fakeSurface)
	}
	s := &fakeSurface{agentID: agentID, execute: f.execute}
	f.surfaces[agentID] = s
	return s, nil
}

// -- Helpers --

func alwaysClick(schemas.PlanContext) (schemas.RawPlan, error) {
	return schemas.RawPlan{"type": "click", "selector_or_description": "#more"}, nil
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.RunCfg.ContextTokenBudget = 0
	cfg.RunCfg.PlanRetryBackoff = 0
	cfg.RunCfg.RoundTimeout = 5 * time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, planner schemas.Planner, factory schemas.SurfaceFactory, opts ...Option) (*Orchestrator, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	opts = append(opts, WithSessionOptions(agent.WithTokenCounter(agent.HeuristicCounter{})))
	o, err := New(cfg, zap.New(core), planner, factory, opts...)
	require.NoError(t, err)
	return o, logs
}

func request(agents, steps int) RunRequest {
	return RunRequest{Goal: "find latest AI news", Agents: agents, StepBudget: steps}
}

// -- Tests --

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(testConfig(), zap.NewNop(), nil, &fakeFactory{})
	assert.ErrorContains(t, err, "nil dependencies")
}

func TestRun_RejectsInvalidRequest(t *testing.T) {
	factory := &fakeFactory{}
	o, _ := newTestOrchestrator(t, testConfig(), &fakePlanner{plan: alwaysClick}, factory)

	for _, tc := range []struct {
		req  RunRequest
		want string
	}{
		{request(0, 3), "agent count must be at least 1"},
		{request(1, 0), "step budget must be at least 1"},
		{RunRequest{Agents: 1, StepBudget: 1}, "goal must not be empty"},
	} {
		_, err := o.Run(context.Background(), tc.req)
		assert.ErrorContains(t, err, tc.want)
	}
	assert.Empty(t, factory.surfaces, "no session starts for a rejected request")
}

func TestRun_IsolatesSessions(t *testing.T) {
	factory := &fakeFactory{}
	o, _ := newTestOrchestrator(t, testConfig(), &fakePlanner{plan: alwaysClick}, factory)

	res, err := o.Run(context.Background(), request(3, 5))
	require.NoError(t, err)

	require.Len(t, res.Sessions, 3)
	require.Len(t, factory.surfaces, 3)
	seen := map[string]bool{}
	for i, s := range res.Sessions {
		assert.Equal(t, fmt.Sprintf("agent-%d", i+1), s.AgentID)
		assert.Equal(t, schemas.StatusExhaustedSteps, s.Status)
		require.Len(t, s.History, 5)
		flags := make([]bool, len(s.History))
		for j, e := range s.History {
			flags[j] = e.Suppressed
			assert.Equal(t, j, e.Round)
		}
		assert.Equal(t, []bool{false, false, true, true, true}, flags, "each session hits its own suppression bound")
		assert.False(t, seen[s.SessionID], "session IDs are unique")
		seen[s.SessionID] = true
	}
	for id, surface := range factory.surfaces {
		assert.EqualValues(t, 2, surface.executed.Load(), id)
		assert.True(t, surface.closed.Load(), "surface %s is closed", id)
	}
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 5, res.StepBudget)
	assert.Empty(t, res.Summary)
}

func TestRun_SurfaceCreationFailureAbortsOnlyThatSession(t *testing.T) {
	factory := &fakeFactory{fail: map[string]error{"agent-2": errors.New("chrome not found")}}
	metrics := observability.NewMetrics("scout_test")
	o, _ := newTestOrchestrator(t, testConfig(), &fakePlanner{plan: alwaysClick}, factory, WithMetrics(metrics))

	res, err := o.Run(context.Background(), request(3, 2))
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusExhaustedSteps, res.Sessions[0].Status)
	assert.Equal(t, schemas.StatusAborted, res.Sessions[1].Status)
	assert.Contains(t, res.Sessions[1].AbortReason, "chrome not found")
	assert.Empty(t, res.Sessions[1].History)
	assert.Equal(t, schemas.StatusExhaustedSteps, res.Sessions[2].Status)

	counts := res.StatusCounts()
	assert.Equal(t, 2, counts[schemas.StatusExhaustedSteps])
	assert.Equal(t, 1, counts[schemas.StatusAborted])
	expected := `
# HELP scout_test_sessions_total Finished sessions by terminal status.
# TYPE scout_test_sessions_total counter
scout_test_sessions_total{status="aborted"} 1
scout_test_sessions_total{status="exhausted_steps"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected), "scout_test_sessions_total"))
}

func TestRun_CrashInOneSessionDoesNotAffectSiblings(t *testing.T) {
	factory := &fakeFactory{execute: func(agentID string, a schemas.Action) (schemas.Observation, error) {
		if agentID == "agent-1" {
			return schemas.Observation{}, schemas.ErrSurfaceCrashed
		}
		return schemas.Observation{Success: true}, nil
	}}
	planner := &fakePlanner{plan: func(pc schemas.PlanContext) (schemas.RawPlan, error) {
		return schemas.RawPlan{"type": "navigate", "url": fmt.Sprintf("https://example.com/%d", pc.Round)}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(), planner, factory)

	res, err := o.Run(context.Background(), request(2, 3))
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusAborted, res.Sessions[0].Status)
	assert.Equal(t, schemas.StatusExhaustedSteps, res.Sessions[1].Status)
	assert.Len(t, res.Sessions[1].History, 3)
}

func TestRun_PanicInSessionIsContained(t *testing.T) {
	planner := &fakePlanner{plan: func(pc schemas.PlanContext) (schemas.RawPlan, error) {
		if pc.AgentID == "agent-2" {
			panic("planner exploded")
		}
		return schemas.RawPlan{"type": "stop"}, nil
	}}
	factory := &fakeFactory{}
	o, logs := newTestOrchestrator(t, testConfig(), planner, factory)

	res, err := o.Run(context.Background(), request(2, 3))
	require.NoError(t, err)

	assert.Equal(t, schemas.StatusCompleted, res.Sessions[0].Status)
	assert.Equal(t, schemas.StatusAborted, res.Sessions[1].Status)
	assert.Equal(t, "panic: planner exploded", res.Sessions[1].AbortReason)
	assert.True(t, factory.surfaces["agent-2"].closed.Load())
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered in agent session").Len())
}

func TestRun_PanicKeepsRecordedRounds(t *testing.T) {
	planner := &fakePlanner{plan: func(pc schemas.PlanContext) (schemas.RawPlan, error) {
		if pc.Round == 2 {
			panic("planner exploded")
		}
		return schemas.RawPlan{"type": "navigate", "url": fmt.Sprintf("https://example.com/%d", pc.Round)}, nil
	}}
	o, _ := newTestOrchestrator(t, testConfig(), planner, &fakeFactory{})

	res, err := o.Run(context.Background(), request(1, 5))
	require.NoError(t, err)

	session := res.Sessions[0]
	assert.Equal(t, schemas.StatusAborted, session.Status)
	assert.Equal(t, "panic: planner exploded", session.AbortReason)
	assert.NotEmpty(t, session.SessionID)
	require.Len(t, session.History, 2)
	assert.Equal(t, "https://example.com/1", session.History[1].Action.URL)
}

func TestRun_SessionLoggerIsNotNestedUnderOrchestrator(t *testing.T) {
	o, logs := newTestOrchestrator(t, testConfig(), &fakePlanner{plan: func(schemas.PlanContext) (schemas.RawPlan, error) {
		return schemas.RawPlan{"type": "stop"}, nil
	}}, &fakeFactory{})

	_, err := o.Run(context.Background(), request(1, 1))
	require.NoError(t, err)

	started := logs.FilterMessage("Session started").All()
	require.Len(t, started, 1)
	assert.Equal(t, "session", started[0].LoggerName)
	assert.Equal(t, "orchestrator", logs.FilterMessage("Run finished").All()[0].LoggerName)
}

func TestRun_CanceledContextStillReturnsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, _ := newTestOrchestrator(t, testConfig(), &fakePlanner{plan: alwaysClick}, &fakeFactory{})

	res, err := o.Run(ctx, RunRequest{Goal: "g", Agents: 3, StepBudget: 3, SummarizeRun: true})
	require.NoError(t, err)

	require.Len(t, res.Sessions, 3)
	for _, s := range res.Sessions {
		assert.Equal(t, schemas.StatusAborted, s.Status)
		assert.Equal(t, "session canceled", s.AbortReason)
	}
	assert.Equal(t, schemas.NoSummary, res.Summary)
}

func TestRun_Summaries(t *testing.T) {
	var gotSessions int
	planner := &fakePlanner{
		plan: func(schemas.PlanContext) (schemas.RawPlan, error) { return schemas.RawPlan{"type": "stop"}, nil },
		summarize: func(sc schemas.SummaryContext) (string, error) {
			if len(sc.Sessions) > 0 {
				gotSessions = len(sc.Sessions)
				return "- combined", nil
			}
			return "- per agent", nil
		},
	}
	o, _ := newTestOrchestrator(t, testConfig(), planner, &fakeFactory{})

	res, err := o.Run(context.Background(), RunRequest{Goal: "g", Agents: 2, StepBudget: 2, SummarizeSessions: true, SummarizeRun: true})
	require.NoError(t, err)
	assert.Equal(t, "- combined", res.Summary)
	assert.Equal(t, 2, gotSessions)
	for _, s := range res.Sessions {
		assert.Equal(t, "- per agent", s.Summary)
	}

	planner.summarize = func(schemas.SummaryContext) (string, error) { return "", errors.New("quota exceeded") }
	res, err = o.Run(context.Background(), RunRequest{Goal: "g", Agents: 1, StepBudget: 2, SummarizeRun: true})
	require.NoError(t, err)
	assert.Equal(t, schemas.NoSummary, res.Summary)
	assert.Equal(t, schemas.StatusCompleted, res.Sessions[0].Status)
}

func TestRun_RespectsMaxParallel(t *testing.T) {
	var active, peak atomic.Int32
	factory := &fakeFactory{execute: func(string, schemas.Action) (schemas.Observation, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return schemas.Observation{Success: true}, nil
	}}
	planner := &fakePlanner{plan: func(pc schemas.PlanContext) (schemas.RawPlan, error) {
		return schemas.RawPlan{"type": "navigate", "url": fmt.Sprintf("https://example.com/%d", pc.Round)}, nil
	}}
	cfg := testConfig()
	cfg.RunCfg.MaxParallel = 1
	o, _ := newTestOrchestrator(t, cfg, planner, factory)

	res, err := o.Run(context.Background(), request(3, 2))
	require.NoError(t, err)
	assert.Len(t, res.Sessions, 3)
	assert.EqualValues(t, 1, peak.Load())
}
