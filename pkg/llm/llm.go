// Package llm adapts text-generation providers to a single Invoke contract:
// an ordered list of role-tagged messages plus a sampling temperature in, a
// plain text payload or an ordered list of typed parts out.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/malbeclabs/huntql/internal/metrics"
)

// ErrNoText is returned when a response carries no text-bearing content.
var ErrNoText = errors.New("no text content in response")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

type PartKind string

const (
	PartText     PartKind = "text"
	PartThinking PartKind = "thinking"
	PartToolUse  PartKind = "tool_use"
	PartOther    PartKind = "other"
)

// Part is one element of a structured response. Only PartText parts carry
// answer text.
type Part struct {
	Kind PartKind
	Text string
}

// Response is either a plain payload (Parts is nil) or a structured one.
type Response struct {
	Text       string
	Parts      []Part
	Model      string
	StopReason string
}

// Client is a long-lived, session-agnostic handle to a text-generation
// provider.
type Client interface {
	Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, messages []Message, temperature float64) (Response, error)

func (f ClientFunc) Invoke(ctx context.Context, messages []Message, temperature float64) (Response, error) {
	return f(ctx, messages, temperature)
}

// ExtractText returns the trimmed answer text of a response. Plain payloads
// are returned as is; structured payloads concatenate their text parts in
// order and drop everything else.
func ExtractText(resp Response) (string, error) {
	var text string
	if resp.Parts == nil {
		text = strings.TrimSpace(resp.Text)
	} else {
		var sb strings.Builder
		for _, p := range resp.Parts {
			if p.Kind == PartText {
				sb.WriteString(p.Text)
			}
		}
		text = strings.TrimSpace(sb.String())
	}
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// splitSystem separates system messages from the conversational turns.
// Multiple system messages are joined in order.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	turns := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	return strings.Join(system, "\n\n"), turns
}

// mergeTurns collapses consecutive messages with the same role, since
// providers with strict alternation reject them.
func mergeTurns(turns []Message) []Message {
	out := make([]Message, 0, len(turns))
	for _, m := range turns {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func observe(provider string, err error) {
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.LLMRequests.WithLabelValues(provider, status).Inc()
}
