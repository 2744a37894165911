// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	LLM() LLMConfig
	Browser() BrowserConfig
	Run() RunConfig
	Suppression() SuppressionConfig
	Database() DatabaseConfig
	Metrics() MetricsConfig
	Tracing() TracingConfig
	Report() ReportConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	LLMCfg         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	BrowserCfg     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	RunCfg         RunConfig         `mapstructure:"run" yaml:"run"`
	SuppressionCfg SuppressionConfig `mapstructure:"suppression" yaml:"suppression"`
	DatabaseCfg    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	MetricsCfg     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	TracingCfg     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
	ReportCfg      ReportConfig      `mapstructure:"report" yaml:"report"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) LLM() LLMConfig                 { return c.LLMCfg }
func (c *Config) Browser() BrowserConfig         { return c.BrowserCfg }
func (c *Config) Run() RunConfig                 { return c.RunCfg }
func (c *Config) Suppression() SuppressionConfig { return c.SuppressionCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Metrics() MetricsConfig         { return c.MetricsCfg }
func (c *Config) Tracing() TracingConfig         { return c.TracingCfg }
func (c *Config) Report() ReportConfig           { return c.ReportCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini   LLMProvider = "gemini"
	ProviderGroq     LLMProvider = "groq"
	ProviderOpenAI   LLMProvider = "openai"
	ProviderTogether LLMProvider = "together"
)

// providerEndpoints are the OpenAI-compatible base URLs per provider.
var providerEndpoints = map[LLMProvider]string{
	ProviderGroq:     "https://api.groq.com/openai/v1",
	ProviderOpenAI:   "https://api.openai.com/v1",
	ProviderTogether: "https://api.together.xyz/v1",
}

const (
	defaultCompatibleModel = "llama-3.3-70b-versatile"
	defaultGeminiModel     = "gemini-2.5-flash"
)

// LLMConfig configures the planner's language model.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model"`
	SummaryModel      string        `mapstructure:"summary_model" yaml:"summary_model"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// ResolvedModel returns the configured model or the provider's default.
func (l LLMConfig) ResolvedModel() string {
	if l.Model != "" {
		return l.Model
	}
	if l.Provider == ProviderGemini {
		return defaultGeminiModel
	}
	return defaultCompatibleModel
}

// ResolvedSummaryModel returns the model used for summaries.
func (l LLMConfig) ResolvedSummaryModel() string {
	if l.SummaryModel != "" {
		return l.SummaryModel
	}
	return l.ResolvedModel()
}

// ResolvedEndpoint returns the configured endpoint or the provider's default.
// Gemini returns an empty string so the SDK default applies.
func (l LLMConfig) ResolvedEndpoint() string {
	if l.Endpoint != "" {
		return l.Endpoint
	}
	return providerEndpoints[l.Provider]
}

// BrowserConfig holds settings for the per-session Chrome instances.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	BinaryPath        string         `mapstructure:"binary_path" yaml:"binary_path"`
	KeepOpen          bool           `mapstructure:"keep_open" yaml:"keep_open"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	NavStopDelay      time.Duration  `mapstructure:"nav_stop_delay" yaml:"nav_stop_delay"`
	MaxScrapeChars    int            `mapstructure:"max_scrape_chars" yaml:"max_scrape_chars"`
	MaxLinks          int            `mapstructure:"max_links" yaml:"max_links"`
	VisitedCacheSize  int            `mapstructure:"visited_cache_size" yaml:"visited_cache_size"`
}

// ViewportConfig is the emulated window size.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// RunConfig holds the settings of one invocation. CLI flags are bound onto
// these keys.
type RunConfig struct {
	Steps              int           `mapstructure:"steps" yaml:"steps"`
	Agents             int           `mapstructure:"agents" yaml:"agents"`
	MaxParallel        int           `mapstructure:"max_parallel" yaml:"max_parallel"`
	RelevanceMode      string        `mapstructure:"relevance_mode" yaml:"relevance_mode"`
	SummarizeSessions  bool          `mapstructure:"summarize_sessions" yaml:"summarize_sessions"`
	SummarizeRun       bool          `mapstructure:"summarize_run" yaml:"summarize_run"`
	RoundTimeout       time.Duration `mapstructure:"round_timeout" yaml:"round_timeout"`
	SessionTimeout     time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
	HistoryWindow      int           `mapstructure:"history_window" yaml:"history_window"`
	ContextTokenBudget int           `mapstructure:"context_token_budget" yaml:"context_token_budget"`
	PlanRetries        int           `mapstructure:"plan_retries" yaml:"plan_retries"`
	PlanRetryBackoff   time.Duration `mapstructure:"plan_retry_backoff" yaml:"plan_retry_backoff"`
}

// SuppressionConfig holds the repeat-blocking thresholds.
type SuppressionConfig struct {
	IdenticalThreshold   int `mapstructure:"identical_threshold" yaml:"identical_threshold"`
	ScrapeThreshold      int `mapstructure:"scrape_threshold" yaml:"scrape_threshold"`
	MaxFailuresPerAction int `mapstructure:"max_failures_per_action" yaml:"max_failures_per_action"`
}

// DatabaseConfig holds the database connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// TracingConfig controls export of session and round spans over OTLP.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Endpoint is host:port of the collector.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// Protocol is "grpc" or "http".
	Protocol   string  `mapstructure:"protocol" yaml:"protocol"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Validate checks the exporter settings when tracing is on.
func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	switch t.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("protocol must be grpc or http; got %q", t.Protocol)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1")
	}
	return nil
}

// ReportConfig controls where the run result is written.
type ReportConfig struct {
	Format      string `mapstructure:"format" yaml:"format"`
	Output      string `mapstructure:"output" yaml:"output"`
	SummaryFile string `mapstructure:"summary_file" yaml:"summary_file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "scout")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGroq))
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.top_p", 1.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.requests_per_second", 2.0)
	v.SetDefault("llm.burst", 2)
	v.SetDefault("llm.max_retries", 2)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.keep_open", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.nav_stop_delay", "2s")
	v.SetDefault("browser.max_scrape_chars", 2000)
	v.SetDefault("browser.max_links", 40)
	v.SetDefault("browser.visited_cache_size", 256)

	// -- Run --
	v.SetDefault("run.steps", 3)
	v.SetDefault("run.agents", 1)
	v.SetDefault("run.max_parallel", 0)
	v.SetDefault("run.relevance_mode", "loose")
	v.SetDefault("run.summarize_sessions", false)
	v.SetDefault("run.summarize_run", true)
	v.SetDefault("run.round_timeout", "90s")
	v.SetDefault("run.session_timeout", "15m")
	v.SetDefault("run.history_window", 3)
	v.SetDefault("run.context_token_budget", 3000)
	v.SetDefault("run.plan_retries", 1)
	v.SetDefault("run.plan_retry_backoff", "750ms")

	// -- Suppression --
	v.SetDefault("suppression.identical_threshold", 2)
	v.SetDefault("suppression.scrape_threshold", 2)
	v.SetDefault("suppression.max_failures_per_action", 2)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_rate", 1.0)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "")
	v.SetDefault("report.summary_file", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets and legacy variable names. The first name found wins.
	_ = v.BindEnv("llm.api_key", "SCOUT_LLM_API_KEY", "LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.model", "SCOUT_LLM_MODEL", "LLM_MODEL")
	_ = v.BindEnv("llm.provider", "SCOUT_LLM_PROVIDER", "LLM_PROVIDER")
	_ = v.BindEnv("browser.binary_path", "SCOUT_BROWSER_BINARY_PATH", "CHROME_BINARY")
	_ = v.BindEnv("database.url", "SCOUT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.LLMCfg.Provider = LLMProvider(strings.ToLower(string(cfg.LLMCfg.Provider)))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RunCfg.Validate(); err != nil {
		return fmt.Errorf("run configuration invalid: %w", err)
	}
	if err := c.SuppressionCfg.Validate(); err != nil {
		return fmt.Errorf("suppression configuration invalid: %w", err)
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.TracingCfg.Validate(); err != nil {
		return fmt.Errorf("tracing configuration invalid: %w", err)
	}
	switch c.ReportCfg.Format {
	case "json", "yaml", "markdown":
	default:
		return fmt.Errorf("report.format must be one of json, yaml, markdown; got %q", c.ReportCfg.Format)
	}
	if c.BrowserCfg.MaxScrapeChars <= 0 {
		return fmt.Errorf("browser.max_scrape_chars must be a positive integer")
	}
	return nil
}

// Validate checks the run settings. Zero agents or a zero step budget is a
// configuration error.
func (r *RunConfig) Validate() error {
	if r.Agents <= 0 {
		return fmt.Errorf("agents must be a positive integer")
	}
	if r.Steps <= 0 {
		return fmt.Errorf("steps must be a positive integer")
	}
	if r.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative")
	}
	switch strings.ToLower(r.RelevanceMode) {
	case "off", "loose", "strict":
	default:
		return fmt.Errorf("relevance_mode must be one of off, loose, strict; got %q", r.RelevanceMode)
	}
	if r.RoundTimeout <= 0 {
		return fmt.Errorf("round_timeout must be a positive duration")
	}
	if r.SessionTimeout < 0 {
		return fmt.Errorf("session_timeout must not be negative")
	}
	if r.PlanRetries < 0 {
		return fmt.Errorf("plan_retries must not be negative")
	}
	return nil
}

// Validate checks the suppression thresholds.
func (s *SuppressionConfig) Validate() error {
	if s.IdenticalThreshold < 1 {
		return fmt.Errorf("identical_threshold must be at least 1")
	}
	if s.ScrapeThreshold < 1 {
		return fmt.Errorf("scrape_threshold must be at least 1")
	}
	if s.MaxFailuresPerAction < 0 {
		return fmt.Errorf("max_failures_per_action must not be negative")
	}
	return nil
}

// Validate checks the provider selection.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderGroq, ProviderOpenAI, ProviderTogether:
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if l.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	return nil
}
