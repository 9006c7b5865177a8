package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const ProviderGemini = "gemini"

type GeminiConfig struct {
	Logger    *slog.Logger
	Client    *genai.Client
	Model     string
	MaxTokens int64
}

func (c *GeminiConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Client == nil {
		return ErrClientRequired
	}
	if c.Model == "" {
		return ErrModelRequired
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return nil
}

// Gemini implements Client using the Google GenAI SDK.
type Gemini struct {
	log *slog.Logger
	cfg GeminiConfig
}

func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Gemini{log: cfg.Logger, cfg: cfg}, nil
}

// NewGeminiClient creates a GenAI client for the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

func (g *Gemini) Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error) {
	system, contents, err := geminiContents(messages)
	if err != nil {
		return Response{}, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(g.cfg.MaxTokens),
	}
	if system != nil {
		config.SystemInstruction = system
	}

	start := time.Now()
	g.log.Debug("llm: gemini call starting", "model", g.cfg.Model, "temperature", temperature, "contents", len(contents))

	resp, err := g.cfg.Client.Models.GenerateContent(ctx, g.cfg.Model, contents, config)
	observe(ProviderGemini, err)
	if err != nil {
		g.log.Warn("llm: gemini call failed", "duration", time.Since(start), "error", err)
		return Response{}, fmt.Errorf("gemini API error: %w", err)
	}

	out := geminiResponse(resp)
	out.Model = g.cfg.Model
	g.log.Debug("llm: gemini call completed", "duration", time.Since(start), "finishReason", out.StopReason)
	return out, nil
}

// geminiContents maps messages onto GenAI contents. Assistant turns use
// the "model" role.
func geminiContents(messages []Message) (*genai.Content, []*genai.Content, error) {
	system, turns := splitSystem(messages)
	turns = mergeTurns(turns)
	if len(turns) == 0 {
		return nil, nil, errors.New("at least one user or assistant message is required")
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	var sys *genai.Content
	if system != "" {
		sys = genai.NewContentFromText(system, genai.RoleUser)
	}
	return sys, contents, nil
}

func geminiResponse(resp *genai.GenerateContentResponse) Response {
	parts := []Part{}
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{Parts: parts}
	}
	cand := resp.Candidates[0]
	out := Response{StopReason: string(cand.FinishReason)}
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if p == nil {
				continue
			}
			switch {
			case p.Thought:
				parts = append(parts, Part{Kind: PartThinking, Text: p.Text})
			case p.FunctionCall != nil:
				parts = append(parts, Part{Kind: PartToolUse, Text: p.FunctionCall.Name})
			case p.Text != "":
				parts = append(parts, Part{Kind: PartText, Text: p.Text})
			default:
				parts = append(parts, Part{Kind: PartOther})
			}
		}
	}
	out.Parts = parts
	return out
}
