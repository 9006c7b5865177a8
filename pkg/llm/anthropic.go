package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

const ProviderAnthropic = "anthropic"

type AnthropicConfig struct {
	Logger    *slog.Logger
	Client    anthropic.Client
	Model     anthropic.Model
	MaxTokens int64
}

func (c *AnthropicConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Model == "" {
		return ErrModelRequired
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return nil
}

// Anthropic implements Client using the Anthropic Messages API.
type Anthropic struct {
	log *slog.Logger
	cfg AnthropicConfig
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Anthropic{log: cfg.Logger, cfg: cfg}, nil
}

func (a *Anthropic) Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error) {
	params, err := a.params(messages, temperature)
	if err != nil {
		return Response{}, err
	}

	start := time.Now()
	a.log.Debug("llm: anthropic call starting", "model", a.cfg.Model, "maxTokens", a.cfg.MaxTokens, "temperature", temperature, "messages", len(params.Messages))

	msg, err := a.cfg.Client.Messages.New(ctx, params)
	observe(ProviderAnthropic, err)
	if err != nil {
		a.log.Warn("llm: anthropic call failed", "duration", time.Since(start), "error", err)
		return Response{}, fmt.Errorf("anthropic API error: %w", err)
	}
	a.log.Debug("llm: anthropic call completed", "duration", time.Since(start), "stopReason", msg.StopReason)

	parts := make([]Part, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			parts = append(parts, Part{Kind: PartText, Text: block.Text})
		case "thinking":
			parts = append(parts, Part{Kind: PartThinking, Text: block.Thinking})
		case "tool_use":
			parts = append(parts, Part{Kind: PartToolUse, Text: block.Name})
		default:
			parts = append(parts, Part{Kind: PartOther})
		}
	}

	return Response{
		Parts:      parts,
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
	}, nil
}

func (a *Anthropic) params(messages []Message, temperature float64) (anthropic.MessageNewParams, error) {
	system, turns := splitSystem(messages)
	turns = mergeTurns(turns)
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, errors.New("at least one user or assistant message is required")
	}

	params := anthropic.MessageNewParams{
		Model:       a.cfg.Model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: anthropic.Float(temperature),
		Messages:    make([]anthropic.MessageParam, 0, len(turns)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		}
	}
	for _, m := range turns {
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return params, nil
}
