package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type RetryConfig struct {
	Logger          *slog.Logger
	MaxTries        uint
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
}

func (c *RetryConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.MaxElapsedTime <= 0 {
		c.MaxElapsedTime = 2 * time.Minute
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	return nil
}

// Retrying wraps a Client and retries transient provider failures with
// exponential backoff. Client errors (4xx other than 429) are not retried.
type Retrying struct {
	log   *slog.Logger
	cfg   RetryConfig
	inner Client
}

func NewRetrying(inner Client, cfg RetryConfig) (*Retrying, error) {
	if inner == nil {
		return nil, ErrClientRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Retrying{log: cfg.Logger, cfg: cfg, inner: inner}, nil
}

func (r *Retrying) Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval

	attempt := 0
	return backoff.Retry(ctx, func() (Response, error) {
		attempt++
		resp, err := r.inner.Invoke(ctx, messages, temperature)
		if err == nil {
			return resp, nil
		}
		if !retryable(err) {
			return Response{}, backoff.Permanent(err)
		}
		r.log.Warn("llm: provider call failed, retrying", "attempt", attempt, "error", err)
		return Response{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxTries),
		backoff.WithMaxElapsedTime(r.cfg.MaxElapsedTime),
	)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
