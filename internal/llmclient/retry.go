package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// defaultBackoff is the retry schedule used between transient provider errors.
func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

// classifyStatus wraps a provider error so backoff knows whether to retry.
// 429 and 5xx are transient; every other status is permanent.
func classifyStatus(provider string, status int, err error) error {
	wrapped := fmt.Errorf("%s API error: status %d: %w", provider, status, err)
	switch {
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return wrapped
	default:
		return backoff.Permanent(wrapped)
	}
}

// retry runs op under the given schedule, capped at maxRetries additional attempts.
func retry(ctx context.Context, b backoff.BackOff, maxRetries int, op func() error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	err := backoff.Retry(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return op()
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
