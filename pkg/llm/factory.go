package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultMaxTokens = 2048

	DefaultAnthropicModel = string(anthropic.ModelClaudeHaiku4_5_20251001)
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultOllamaModel    = "llama3.1"
)

var (
	ErrLoggerRequired   = errors.New("logger is required")
	ErrModelRequired    = errors.New("model is required")
	ErrClientRequired   = errors.New("client is required")
	ErrAPIKeyRequired   = errors.New("api key is required")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrProviderRequired = errors.New("provider is required")
)

// ProviderConfig selects and configures one provider. The returned client
// is wrapped in Retrying unless MaxTries is 1.
type ProviderConfig struct {
	Provider   string
	Model      string
	MaxTokens  int64
	APIKey     string
	BaseURL    string
	MaxTries   uint
	// MaxElapsed bounds the total time spent retrying one request.
	MaxElapsed time.Duration
}

func (c *ProviderConfig) Validate() error {
	if c.Provider == "" {
		return ErrProviderRequired
	}
	if c.Model == "" {
		switch c.Provider {
		case ProviderAnthropic:
			c.Model = DefaultAnthropicModel
		case ProviderGemini:
			c.Model = DefaultGeminiModel
		case ProviderOllama:
			c.Model = DefaultOllamaModel
		}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return nil
}

// New builds the configured provider client. It is meant to be called once
// at process start; the result is shared by every session.
func New(ctx context.Context, log *slog.Logger, cfg ProviderConfig) (Client, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, ErrAPIKeyRequired
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client, err = NewAnthropic(AnthropicConfig{
			Logger:    log,
			Client:    anthropic.NewClient(opts...),
			Model:     anthropic.Model(cfg.Model),
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderGemini:
		gc, gerr := NewGeminiClient(ctx, cfg.APIKey)
		if gerr != nil {
			return nil, gerr
		}
		client, err = NewGemini(GeminiConfig{
			Logger:    log,
			Client:    gc,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case ProviderOllama:
		client, err = NewOllama(OllamaConfig{
			Logger:    log,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxTries == 1 {
		return client, nil
	}
	log.Info("llm: provider ready", "provider", cfg.Provider, "model", cfg.Model)
	return NewRetrying(client, RetryConfig{Logger: log, MaxTries: cfg.MaxTries, MaxElapsedTime: cfg.MaxElapsed})
}
