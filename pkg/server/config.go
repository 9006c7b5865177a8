package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/pipeline"
	"github.com/malbeclabs/huntql/pkg/schema"
)

const (
	defaultListenAddr        = ":8080"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

var (
	ErrLoggerRequired   = errors.New("logger is required")
	ErrHunterRequired   = errors.New("hunter is required")
	ErrCheckerRequired  = errors.New("checker is required")
	ErrRegistryRequired = errors.New("registry is required")
)

// Hunter runs one hunting session. *service.Service implements it.
type Hunter interface {
	Hunt(ctx context.Context, userQuery string, history pipeline.Log) pipeline.Session
}

type Config struct {
	Logger   *slog.Logger
	Hunter   Hunter
	Checker  checker.Checker
	Registry *schema.Registry

	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens allowed for MCP endpoint authentication
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Hunter == nil {
		return ErrHunterRequired
	}
	if c.Checker == nil {
		return ErrCheckerRequired
	}
	if c.Registry == nil {
		return ErrRegistryRequired
	}
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
