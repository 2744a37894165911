package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/agent"
	"github.com/xkilldash9x/scout-cli/internal/browser"
	"github.com/xkilldash9x/scout-cli/internal/config"
	"github.com/xkilldash9x/scout-cli/internal/llmclient"
	"github.com/xkilldash9x/scout-cli/internal/observability"
	"github.com/xkilldash9x/scout-cli/internal/orchestrator"
	"github.com/xkilldash9x/scout-cli/internal/reporting"
	"github.com/xkilldash9x/scout-cli/internal/store"
)

const (
	shutdownTimeout = 15 * time.Second
	persistTimeout  = 30 * time.Second
)

// surfaceManager hands out browser surfaces and tears down whatever is left
// when the run ends.
type surfaceManager interface {
	schemas.SurfaceFactory
	Shutdown(ctx context.Context) error
}

// dbPool is the part of pgxpool.Pool the run command uses.
type dbPool interface {
	store.DBPool
	Close()
}

// runDeps are the constructors of the external collaborators of a run.
type runDeps struct {
	newLLMClient func(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error)
	newSurfaces  func(cfg config.BrowserConfig, logger *zap.Logger) surfaceManager
	newPool      func(ctx context.Context, url string) (dbPool, error)
}

func defaultDeps() runDeps {
	return runDeps{
		newLLMClient: llmclient.NewClient,
		newSurfaces: func(cfg config.BrowserConfig, logger *zap.Logger) surfaceManager {
			return browser.NewManager(cfg, logger)
		},
		newPool: func(ctx context.Context, url string) (dbPool, error) {
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				return nil, err
			}
			return pool, nil
		},
	}
}

// runFlagKeys maps each run flag onto the config key it overrides.
var runFlagKeys = map[string]string{
	"steps":           "run.steps",
	"agents":          "run.agents",
	"max-parallel":    "run.max_parallel",
	"relevance":       "run.relevance_mode",
	"summarize":       "run.summarize_sessions",
	"summarize-run":   "run.summarize_run",
	"round-timeout":   "run.round_timeout",
	"session-timeout": "run.session_timeout",
	"headless":        "browser.headless",
	"keep-open":       "browser.keep_open",
	"provider":        "llm.provider",
	"model":           "llm.model",
	"output":          "report.output",
	"format":          "report.format",
	"summary-file":    "report.summary_file",
	"metrics":         "metrics.enabled",
	"trace":           "tracing.enabled",
	"trace-endpoint":  "tracing.endpoint",
	"database-url":    "database.url",
}

func newRunCmd(v *viper.Viper, deps runDeps) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Runs one or more browsing agents toward a research goal",
		Long: `Runs one or more browsing agents toward a research goal.

Each agent drives its own browser, proposing one action per round until it
stops or its step budget is spent. The combined findings are printed at the
end and optionally written to a report and a summary file.`,
		Example: `  scout run "latest stable Go release notes" --steps 5
  scout run "compare rust web frameworks" --agents 3 --summarize -o report.md -f markdown`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("nav-stop-seconds") {
				secs, _ := cmd.Flags().GetFloat64("nav-stop-seconds")
				if secs < 0 {
					return fmt.Errorf("--nav-stop-seconds must not be negative")
				}
				cfg.BrowserCfg.NavStopDelay = time.Duration(secs * float64(time.Second))
			}

			goal := strings.TrimSpace(strings.Join(args, " "))
			return runGoal(cmd.Context(), cfg, goal, cmd.OutOrStdout(), deps)
		},
	}

	defaults := config.NewDefaultConfig()
	flags := runCmd.Flags()
	flags.IntP("steps", "s", defaults.RunCfg.Steps, "Maximum rounds per agent.")
	flags.IntP("agents", "n", defaults.RunCfg.Agents, "Number of agents, each with its own browser.")
	flags.Int("max-parallel", defaults.RunCfg.MaxParallel, "Maximum sessions running at once (0 runs all agents at once).")
	flags.String("relevance", defaults.RunCfg.RelevanceMode, "Filtering of scraped text shown to the planner: off, loose or strict.")
	flags.Bool("summarize", defaults.RunCfg.SummarizeSessions, "Summarize each agent's session.")
	flags.Bool("summarize-run", defaults.RunCfg.SummarizeRun, "Produce one combined summary over all sessions.")
	flags.Duration("round-timeout", defaults.RunCfg.RoundTimeout, "Time limit for a single round.")
	flags.Duration("session-timeout", defaults.RunCfg.SessionTimeout, "Time limit for a whole session (0 disables it).")
	flags.Float64("nav-stop-seconds", defaults.BrowserCfg.NavStopDelay.Seconds(), "Seconds to let a page load before it is stopped.")
	flags.Bool("headless", defaults.BrowserCfg.Headless, "Run the browsers without a window.")
	flags.Bool("keep-open", defaults.BrowserCfg.KeepOpen, "Leave the browsers open until interrupted.")
	flags.String("provider", string(defaults.LLMCfg.Provider), "LLM provider: groq, openai, together or gemini.")
	flags.String("model", "", "Planner model (defaults to the provider's model).")
	flags.StringP("output", "o", "", "Output file path for the report. If unset, no report is written.")
	flags.StringP("format", "f", defaults.ReportCfg.Format, "Report format: "+strings.Join(reporting.Formats(), ", ")+".")
	flags.String("summary-file", "", "Write the final summary to this markdown file.")
	flags.Bool("metrics", defaults.MetricsCfg.Enabled, "Expose Prometheus metrics while the run is in progress.")
	flags.String("database-url", "", "PostgreSQL URL to persist the run to.")
	flags.Bool("trace", defaults.TracingCfg.Enabled, "Export session and round spans over OTLP.")
	flags.String("trace-endpoint", defaults.TracingCfg.Endpoint, "OTLP collector address for session spans (host:port).")

	// Bindings must exist before the root command loads the configuration.
	for name, key := range runFlagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	return runCmd
}

// runGoal executes one run and delivers its results. Partial results of an
// interrupted run are still reported before the interruption is returned.
func runGoal(ctx context.Context, cfg *config.Config, goal string, out io.Writer, deps runDeps) error {
	logger := observability.GetLogger()
	reportCfg := cfg.Report()

	tracing, err := observability.InitTracing(ctx, cfg.Tracing(), "scout", Version, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tracing.Shutdown(flushCtx); err != nil {
			logger.Warn("Error flushing traces", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics("scout")
	if cfg.Metrics().Enabled {
		stop := serveMetrics(ctx, cfg.Metrics().ListenAddr, metrics, logger)
		defer stop()
	}

	llm, err := deps.newLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	defer func() {
		if err := llm.Close(); err != nil {
			logger.Warn("Error closing LLM client", zap.Error(err))
		}
	}()
	planner := agent.NewLLMPlanner(llm, logger, float64(cfg.LLM().Temperature), cfg.LLM().MaxTokens)

	surfaces := deps.newSurfaces(cfg.Browser(), logger)
	defer shutdownSurfaces(ctx, surfaces, cfg.Browser().KeepOpen, out, logger)

	orch, err := orchestrator.New(cfg, logger, planner, surfaces, orchestrator.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	run := cfg.Run()
	result, err := orch.Run(ctx, orchestrator.RunRequest{
		Goal:              goal,
		Agents:            run.Agents,
		StepBudget:        run.Steps,
		SummarizeSessions: run.SummarizeSessions,
		SummarizeRun:      run.SummarizeRun,
	})
	if err != nil {
		return err
	}

	if url := cfg.Database().URL; url != "" {
		if err := persistRun(ctx, deps, url, result, logger); err != nil {
			logger.Error("Failed to persist run", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}

	if reportCfg.Output != "" {
		if err := writeReport(reportCfg, result); err != nil {
			return err
		}
		logger.Info("Report written", zap.String("path", reportCfg.Output), zap.String("format", reportCfg.Format))
	}
	if reportCfg.SummaryFile != "" {
		if err := reporting.WriteSummaryFile(reportCfg.SummaryFile, result); err != nil {
			return err
		}
	}

	printRun(out, result)
	return ctx.Err()
}

// serveMetrics exposes the run metrics until the returned stop func is called.
func serveMetrics(ctx context.Context, addr string, m *observability.Metrics, logger *zap.Logger) (stop func()) {
	metricsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := observability.ServeMetrics(metricsCtx, addr, m, logger); err != nil {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// shutdownSurfaces closes every remaining browser. With keepOpen the browsers
// stay up until ctx is done.
func shutdownSurfaces(ctx context.Context, surfaces surfaceManager, keepOpen bool, out io.Writer, logger *zap.Logger) {
	if keepOpen && ctx.Err() == nil {
		fmt.Fprintln(out, "\nBrowsers left open. Press Ctrl+C to close them and exit.")
		<-ctx.Done()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := surfaces.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during browser shutdown", zap.Error(err))
	}
}

// persistRun stores the result. It runs detached from ctx so an interrupted
// run still keeps its partial history.
func persistRun(ctx context.Context, deps runDeps, url string, result schemas.RunResult, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	pool, err := deps.newPool(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	return st.PersistRun(ctx, result)
}

func writeReport(cfg config.ReportConfig, result schemas.RunResult) error {
	reporter, err := reporting.New(cfg.Format, cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}
	if err := reporter.Write(result); err != nil {
		reporter.Close()
		return err
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	return nil
}

// printRun writes the per-agent outcome and the final summary.
func printRun(w io.Writer, result schemas.RunResult) {
	counts := result.StatusCounts()
	fmt.Fprintf(w, "\nRun %s: %d completed, %d exhausted steps, %d aborted\n",
		result.RunID,
		counts[schemas.StatusCompleted],
		counts[schemas.StatusExhaustedSteps],
		counts[schemas.StatusAborted])
	for _, s := range result.Sessions {
		line := fmt.Sprintf("  %s: %s after %d rounds", s.AgentID, s.Status, len(s.History))
		if s.AbortReason != "" {
			line += " (" + s.AbortReason + ")"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%s\n", reporting.SummaryText(result))
}
