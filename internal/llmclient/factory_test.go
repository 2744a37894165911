package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

func TestNewClient_Providers(t *testing.T) {
	for _, p := range []config.LLMProvider{config.ProviderGroq, config.ProviderOpenAI, config.ProviderTogether, config.ProviderGemini} {
		t.Run(string(p), func(t *testing.T) {
			client, err := NewClient(context.Background(), getValidLLMConfig(p), setupTestLogger(t))
			require.NoError(t, err)
			router, ok := client.(*LLMRouter)
			require.True(t, ok)
			assert.Same(t, router.clients[schemas.TierFast], router.clients[schemas.TierPowerful], "one model serves both tiers")
			assert.NoError(t, client.Close())
		})
	}
}

func TestNewClient_SeparateSummaryModel(t *testing.T) {
	cfg := getValidLLMConfig(config.ProviderGroq)
	cfg.SummaryModel = "bigger-model"

	client, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	require.NoError(t, err)
	router := client.(*LLMRouter)

	fast := router.clients[schemas.TierFast].(*RateLimitedClient)
	powerful := router.clients[schemas.TierPowerful].(*RateLimitedClient)
	assert.Same(t, fast.limiter, powerful.limiter, "tiers share one limiter")
	assert.Equal(t, "test-model", fast.inner.(*OpenAIClient).model)
	assert.Equal(t, "bigger-model", powerful.inner.(*OpenAIClient).model)
}

func TestNewClient_Errors(t *testing.T) {
	cfg := getValidLLMConfig("anthropic")
	_, err := NewClient(context.Background(), cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "unknown or unsupported LLM provider configured: 'anthropic'")

	cfg = getValidLLMConfig(config.ProviderGroq)
	cfg.APIKey = ""
	_, err = NewClient(context.Background(), cfg, setupTestLogger(t))
	assert.ErrorContains(t, err, "API key is required")
}
