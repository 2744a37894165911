package llmclient

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scout-cli/api/schemas"
)

// NewLimiter builds a token bucket for provider calls. A non-positive rate
// disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// RateLimitedClient gates an LLMClient behind a limiter that may be shared
// across clients, and therefore across concurrently running agents.
type RateLimitedClient struct {
	inner   schemas.LLMClient
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with limiter.
func NewRateLimitedClient(inner schemas.LLMClient, limiter *rate.Limiter) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: limiter}
}

// Generate waits for a token, then delegates.
func (c *RateLimitedClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return c.inner.Generate(ctx, req)
}

// Close closes the wrapped client.
func (c *RateLimitedClient) Close() error {
	return c.inner.Close()
}
