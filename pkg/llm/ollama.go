package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderOllama = "ollama"

	DefaultOllamaURL = "http://localhost:11434"
)

type OllamaConfig struct {
	Logger     *slog.Logger
	BaseURL    string
	HTTPClient *http.Client
	Model      string
	MaxTokens  int64
}

func (c *OllamaConfig) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.Model == "" {
		return ErrModelRequired
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultOllamaURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 0}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	return nil
}

// Ollama implements Client against a local Ollama server's chat endpoint.
type Ollama struct {
	log *slog.Logger
	cfg OllamaConfig
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Ollama{log: cfg.Logger, cfg: cfg}, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (o *Ollama) Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error) {
	req := ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: make([]ollamaMessage, 0, len(messages)),
		Stream:   false,
		Options: map[string]any{
			"num_predict": o.cfg.MaxTokens,
			"temperature": temperature,
		},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	start := time.Now()
	resp, err := o.chat(ctx, req)
	observe(ProviderOllama, err)
	if err != nil {
		o.log.Warn("llm: ollama call failed", "duration", time.Since(start), "error", err)
		return Response{}, fmt.Errorf("failed to get response: %w", err)
	}
	o.log.Debug("llm: ollama call completed", "duration", time.Since(start), "doneReason", resp.DoneReason)

	return Response{
		Text:       resp.Message.Content,
		Model:      resp.Model,
		StopReason: resp.DoneReason,
	}, nil
}

// chat posts to /api/chat. Ollama may answer with newline-delimited JSON
// chunks even when streaming is disabled, so content is accumulated.
func (o *Ollama) chat(ctx context.Context, req ollamaChatRequest) (ollamaChatResponse, error) {
	var out ollamaChatResponse

	b, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("json marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return out, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return out, &StatusError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Body: string(body)}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return out, fmt.Errorf("stream decode: %w (line=%q)", err, string(line))
		}
		if chunk.Error != "" {
			return out, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		out.Message.Content += chunk.Message.Content
		if chunk.Message.Role != "" {
			out.Message.Role = chunk.Message.Role
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.DoneReason != "" {
			out.DoneReason = chunk.DoneReason
		}
		out.Done = chunk.Done
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("scan: %w", err)
	}
	return out, nil
}
