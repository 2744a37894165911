package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// NewClient builds the LLM client used by a run. Planning turns go to the
// fast tier on the configured model and summaries go to the powerful tier on
// the summary model. Both tiers share one rate limiter.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	limiter := NewLimiter(cfg.RequestsPerSecond, cfg.Burst)

	fast, err := newProviderClient(ctx, cfg, cfg.ResolvedModel(), logger)
	if err != nil {
		return nil, err
	}
	fastLimited := NewRateLimitedClient(fast, limiter)

	var powerful schemas.LLMClient = fastLimited
	if summaryModel := cfg.ResolvedSummaryModel(); summaryModel != cfg.ResolvedModel() {
		p, err := newProviderClient(ctx, cfg, summaryModel, logger)
		if err != nil {
			return nil, err
		}
		powerful = NewRateLimitedClient(p, limiter)
	}

	logger.Info("LLM client configured",
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.ResolvedModel()),
		zap.String("summary_model", cfg.ResolvedSummaryModel()),
	)
	return NewLLMRouter(logger, fastLimited, powerful)
}

func newProviderClient(ctx context.Context, cfg config.LLMConfig, model string, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, model, logger)
	case config.ProviderGroq, config.ProviderOpenAI, config.ProviderTogether:
		return NewOpenAIClient(cfg, model, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGroq, config.ProviderOpenAI, config.ProviderTogether)
	}
}
