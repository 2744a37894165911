package llmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scout-cli/api/schemas"
	"github.com/xkilldash9x/scout-cli/internal/config"
)

// OpenAIClient implements schemas.LLMClient for any OpenAI-compatible chat
// completions endpoint (Groq, OpenAI, Together).
type OpenAIClient struct {
	client         openai.Client
	provider       config.LLMProvider
	model          string
	cfg            config.LLMConfig
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

// NewOpenAIClient initializes a chat completions client for one model.
func NewOpenAIClient(cfg config.LLMConfig, model string, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", cfg.Provider)
	}
	endpoint := cfg.ResolvedEndpoint()
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint known for provider %s", cfg.Provider)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(endpoint),
		// Retries are driven by backoff so every provider shares one policy.
		option.WithMaxRetries(0),
	}
	if cfg.APITimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.APITimeout))
	}

	return &OpenAIClient{
		client:         openai.NewClient(opts...),
		provider:       cfg.Provider,
		model:          model,
		cfg:            cfg,
		logger:         logger.Named("llm_client." + string(cfg.Provider)),
		backoffFactory: defaultBackoff,
	}, nil
}

// Generate sends a system and user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	params := c.buildParams(req)
	var content string

	operation := func() error {
		start := time.Now()
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return c.handleAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("%s API returned no choices", c.provider))
		}
		text := resp.Choices[0].Message.Content
		if text == "" {
			return fmt.Errorf("%s API returned empty content (Reason: %s)", c.provider, resp.Choices[0].FinishReason)
		}
		c.logger.Debug("LLM generation complete",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
			zap.Int64("total_tokens", resp.Usage.TotalTokens),
		)
		content = text
		return nil
	}

	maxRetries := c.cfg.MaxRetries
	if req.Options.SkipRetries {
		maxRetries = 0
	}
	if err := retry(ctx, c.backoffFactory(), maxRetries, operation); err != nil {
		return "", err
	}
	return content, nil
}

// Close is a no-op; the underlying HTTP client is shared.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.UserPrompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Options.Temperature),
	}
	switch {
	case req.Options.TopP > 0:
		params.TopP = openai.Float(req.Options.TopP)
	case c.cfg.TopP > 0:
		params.TopP = openai.Float(float64(c.cfg.TopP))
	}
	switch {
	case req.Options.MaxTokens > 0:
		params.MaxTokens = openai.Int(int64(req.Options.MaxTokens))
	case c.cfg.MaxTokens > 0:
		params.MaxTokens = openai.Int(int64(c.cfg.MaxTokens))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *OpenAIClient) handleAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		c.logger.Warn("LLM API returned error status", zap.Int("status", apiErr.StatusCode))
		return classifyStatus(string(c.provider), apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	c.logger.Warn("Network error during LLM request, retrying", zap.Error(err))
	return err
}
