package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/xkilldash9x/scout-cli/internal/config"
)

// stubGemini returns a client whose transport is the supplied function.
func stubGemini(t *testing.T, fn generateFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return &GeminiClient{
		model:          "test-model",
		cfg:            getValidLLMConfig(config.ProviderGemini),
		logger:         zap.New(core),
		generate:       fn,
		backoffFactory: fastBackoff,
	}, logs
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
	}
}

func TestNewGeminiClient(t *testing.T) {
	logger := setupTestLogger(t)

	cfg := getValidLLMConfig(config.ProviderGemini)
	cfg.APIKey = ""
	_, err := NewGeminiClient(context.Background(), cfg, "m", logger)
	assert.ErrorContains(t, err, "Gemini API Key is required")

	client, err := NewGeminiClient(context.Background(), getValidLLMConfig(config.ProviderGemini), "gemini-2.5-flash", logger)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", client.model)
	assert.NotNil(t, client.generate)
	assert.NoError(t, client.Close())
}

func TestGeminiGenerate_Success(t *testing.T) {
	var gotModel string
	var gotCfg *genai.GenerateContentConfig
	var gotPrompt string
	client, logs := stubGemini(t, func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		gotModel, gotCfg = model, cfg
		gotPrompt = contents[0].Parts[0].Text
		return textResponse(`{"type":"stop"}`), nil
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"type":"stop"}`, out)

	assert.Equal(t, "test-model", gotModel)
	assert.Equal(t, "User query.", gotPrompt)
	assert.Equal(t, "application/json", gotCfg.ResponseMIMEType)
	require.NotNil(t, gotCfg.SystemInstruction)
	assert.Equal(t, "System prompt instructions.", gotCfg.SystemInstruction.Parts[0].Text)
	require.NotNil(t, gotCfg.Temperature)
	assert.InDelta(t, 0.2, *gotCfg.Temperature, 1e-6)

	entries := logs.FilterMessage("LLM generation complete").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 15, entries[0].ContextMap()["total_tokens"])
}

func TestGeminiGenerate_RetriesTransientErrors(t *testing.T) {
	calls := 0
	client, _ := stubGemini(t, func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		calls++
		if calls == 1 {
			return nil, genai.APIError{Code: 429, Message: "quota"}
		}
		return textResponse("ok"), nil
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestGeminiGenerate_PermanentErrors(t *testing.T) {
	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		wantErr string
	}{
		{"bad request", nil, genai.APIError{Code: 400, Message: "bad"}, "gemini API error: status 400"},
		{"no candidates", &genai.GenerateContentResponse{}, nil, "no candidates"},
		{"safety block", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, nil, "blocked the request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			client, _ := stubGemini(t, func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				calls++
				return tt.resp, tt.err
			})
			_, err := client.Generate(context.Background(), createTestRequest())
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, 1, calls, "permanent errors are not retried")
		})
	}
}

func TestGeminiGenerate_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	client, _ := stubGemini(t, func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 3, calls, "one attempt plus MaxRetries")
}

func TestGeminiGenerate_ContextCanceled(t *testing.T) {
	client, _ := stubGemini(t, func(ctx context.Context, _ string, _ []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, createTestRequest())
	assert.ErrorIs(t, err, context.Canceled)
}
