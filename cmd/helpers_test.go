package cmd

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/observability"
)

// resetForTest isolates a test from the developer's environment: a silent
// logger, an empty working directory and home, and no SCOUT_ variables.
func resetForTest(t *testing.T) string {
	t.Helper()

	observability.ResetForTest()
	observability.Initialize(config.LoggerConfig{Level: "fatal", Format: "json", ServiceName: "test"}, zapcore.AddSync(io.Discard))
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for _, name := range []string{
		"SCOUT_DATABASE_URL", "DATABASE_URL",
		"SCOUT_LLM_PROVIDER", "LLM_PROVIDER",
		"SCOUT_LLM_MODEL", "LLM_MODEL",
		"SCOUT_RUN_STEPS", "SCOUT_RUN_AGENTS",
		"SCOUT_REPORT_OUTPUT", "SCOUT_REPORT_FORMAT",
	} {
		t.Setenv(name, "")
	}
	// Keep token counting offline.
	t.Setenv("SCOUT_RUN_CONTEXT_TOKEN_BUDGET", "0")
	return dir
}

// executeCommand runs the command tree with args and returns its stdout.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// scriptedLLM answers planning calls with plan and summary calls with summary.
type scriptedLLM struct {
	plan    string
	summary string
	calls   atomic.Int32
}

func (l *scriptedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	l.calls.Add(1)
	if req.Tier == schemas.TierPowerful {
		return l.summary, nil
	}
	return l.plan, nil
}

func (l *scriptedLLM) Close() error { return nil }

type fakeSurface struct {
	executed atomic.Int32
	closed   atomic.Bool
}

func (s *fakeSurface) Execute(_ context.Context, a schemas.Action) (schemas.Observation, error) {
	s.executed.Add(1)
	return schemas.Observation{Kind: schemas.ObservationExecuted, Success: true, URL: a.URL, Title: "Go"}, nil
}

func (s *fakeSurface) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

type fakeSurfaces struct {
	mu        sync.Mutex
	cfg       config.BrowserConfig
	surfaces  []*fakeSurface
	shutdowns atomic.Int32
}

func (f *fakeSurfaces) NewSurface(context.Context, string) (schemas.BrowserSurface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSurface{}
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

func (f *fakeSurfaces) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	return nil
}

// testHarness wires fakes into every external collaborator of a run.
type testHarness struct {
	llm      *scriptedLLM
	llmCfg   config.LLMConfig
	surfaces *fakeSurfaces
	poolURL  string
	poolErr  error
}

func newTestHarness(plan, summary string) *testHarness {
	return &testHarness{
		llm:      &scriptedLLM{plan: plan, summary: summary},
		surfaces: &fakeSurfaces{},
		poolErr:  context.DeadlineExceeded,
	}
}

func (h *testHarness) deps() runDeps {
	return runDeps{
		newLLMClient: func(_ context.Context, cfg config.LLMConfig, _ *zap.Logger) (schemas.LLMClient, error) {
			h.llmCfg = cfg
			return h.llm, nil
		},
		newSurfaces: func(cfg config.BrowserConfig, _ *zap.Logger) surfaceManager {
			h.surfaces.cfg = cfg
			return h.surfaces
		},
		newPool: func(_ context.Context, url string) (dbPool, error) {
			h.poolURL = url
			return nil, h.poolErr
		},
	}
}

func (h *testHarness) executed() int {
	h.surfaces.mu.Lock()
	defer h.surfaces.mu.Unlock()
	n := 0
	for _, s := range h.surfaces.surfaces {
		n += int(s.executed.Load())
	}
	return n
}

func (h *testHarness) allClosed(t *testing.T) {
	t.Helper()
	h.surfaces.mu.Lock()
	defer h.surfaces.mu.Unlock()
	for i, s := range h.surfaces.surfaces {
		require.Truef(t, s.closed.Load(), "surface %d was not closed", i)
	}
}
