package llm

import (
	"context"
	"math"
	"time"

	"github.com/spherical/drawing-extractor/internal/domain"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: initialBackoff,
		MaxBackoff:     maxBackoff,
	}
}

// calculateBackoff calculates exponential backoff duration
func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	return time.Duration(backoff)
}

// retryWithBackoff runs attempt until it succeeds, fails with a non-transient
// error, or the retry budget is spent. The last ProviderError is returned as is
// so callers can inspect its kind.
func (c *Client) retryWithBackoff(ctx context.Context, attempt func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for i := 0; i <= c.retry.MaxRetries; i++ {
		select {
		case <-ctx.Done():
			return "", domain.APIError("request cancelled", ctx.Err())
		default:
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return "", domain.APIError("rate limiter wait", err)
		}

		content, err := attempt(ctx)
		if err == nil {
			return content, nil
		}
		lastErr = err

		pe, ok := AsProviderError(err)
		if !ok || !pe.Retryable() {
			return "", err
		}
		if pe.Kind == KindRateLimited {
			c.limiter.Backoff(c.retry.InitialBackoff)
		}

		if i == c.retry.MaxRetries {
			break
		}

		backoff := calculateBackoff(i, c.retry)
		c.logger.Warn().
			Int("attempt", i+1).
			Int("max_retries", c.retry.MaxRetries).
			Dur("backoff", backoff).
			Err(err).
			Msg("Request failed, retrying")

		select {
		case <-ctx.Done():
			return "", domain.APIError("request cancelled", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return "", lastErr
}
