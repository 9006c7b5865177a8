package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RemoteConfig struct {
	Logger     *slog.Logger
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxTries   uint
}

func (c *RemoteConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.URL == "" {
		return ErrURLRequired
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	return nil
}

// Remote checks queries against an external analyzer service. The service
// accepts {"query": ..., "sources": [...]} and answers {"valid": ..., "error": ...}.
type Remote struct {
	log *slog.Logger
	cfg RemoteConfig
}

func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Remote{log: cfg.Logger, cfg: cfg}, nil
}

type remoteRequest struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources"`
}

func (r *Remote) Check(ctx context.Context, query string, sources []string) (Verdict, error) {
	body, err := json.Marshal(remoteRequest{Query: query, Sources: sources})
	if err != nil {
		return Verdict{}, fmt.Errorf("json marshal: %w", err)
	}

	attempt := 0
	verdict, err := backoff.Retry(ctx, func() (Verdict, error) {
		attempt++
		if attempt > 1 {
			r.log.Warn("checker: remote analyzer call failed, retrying", "attempt", attempt)
		}
		return r.post(ctx, body)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.cfg.MaxTries))
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to check query: %w", err)
	}
	if !verdict.Valid && verdict.Error == "" {
		verdict.Error = "query rejected by analyzer"
	}
	if verdict.Valid {
		verdict.Error = ""
	}
	return verdict, nil
}

func (r *Remote) post(ctx context.Context, body []byte) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, backoff.Permanent(fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		err := fmt.Errorf("analyzer http %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return Verdict{}, backoff.Permanent(err)
		}
		return Verdict{}, err
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return v, nil
}
