// Package service runs hunting sessions and records their outcome in the
// configured sinks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"

	"github.com/malbeclabs/huntql/pkg/pipeline"
)

const defaultConcurrency = 4

var (
	ErrLoggerRequired = errors.New("logger is required")
	ErrRunnerRequired = errors.New("runner is required")
)

// Runner executes one session. *pipeline.Controller implements it.
type Runner interface {
	RunWithHistory(ctx context.Context, userQuery string, history pipeline.Log) pipeline.Session
}

type Store interface {
	Save(ctx context.Context, sess pipeline.Session) error
}

type Publisher interface {
	Publish(ctx context.Context, sess pipeline.Session) error
}

type Config struct {
	Logger      *slog.Logger
	Runner      Runner
	Store       Store     // optional
	Publisher   Publisher // optional
	Concurrency int       // Batch worker count (default 4)
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Runner == nil {
		return ErrRunnerRequired
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	return nil
}

type Service struct {
	log  *slog.Logger
	cfg  Config
	pool pond.ResultPool[pipeline.Session]
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Service{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[pipeline.Session](cfg.Concurrency),
	}, nil
}

// Hunt runs one session and records it. Sink failures are logged; the
// session is returned regardless.
func (s *Service) Hunt(ctx context.Context, userQuery string, history pipeline.Log) pipeline.Session {
	sess := s.cfg.Runner.RunWithHistory(ctx, userQuery, history)
	s.record(ctx, sess)
	return sess
}

func (s *Service) record(ctx context.Context, sess pipeline.Session) {
	// Recording happens even when the caller's context has ended.
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Save(ctx, sess); err != nil {
			s.log.Error("service: failed to store session", "id", sess.ID, "error", err)
		}
	}
	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Publish(ctx, sess); err != nil {
			s.log.Error("service: failed to publish session", "id", sess.ID, "error", err)
		}
	}
}

// Batch runs independent sessions on the worker pool and returns them in
// input order. Sessions share no state. If ctx ends first, sessions not yet
// started are skipped and the context error is returned.
func (s *Service) Batch(ctx context.Context, queries []string) ([]pipeline.Session, error) {
	group := s.pool.NewGroupContext(ctx)
	for _, q := range queries {
		group.Submit(func() pipeline.Session {
			return s.Hunt(ctx, q, pipeline.Log{})
		})
	}
	sessions, err := group.Wait()
	if err != nil {
		return sessions, fmt.Errorf("batch interrupted: %w", err)
	}
	s.log.Info("service: batch finished", "sessions", len(sessions))
	return sessions, nil
}

// Close stops the worker pool after running tasks finish.
func (s *Service) Close() {
	s.pool.StopAndWait()
}
