// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/malbeclabs/huntql/pkg/llm"
)

var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Reply is one scripted outcome of Invoke.
type Reply struct {
	Response llm.Response
	Err      error
}

func Text(s string) Reply        { return Reply{Response: llm.Response{Text: s}} }
func Parts(p ...llm.Part) Reply  { return Reply{Response: llm.Response{Parts: p}} }
func Fail(err error) Reply       { return Reply{Err: err} }
func TextPart(s string) llm.Part { return llm.Part{Kind: llm.PartText, Text: s} }
func Thinking(s string) llm.Part { return llm.Part{Kind: llm.PartThinking, Text: s} }

// Call records the arguments of one Invoke.
type Call struct {
	Messages    []llm.Message
	Temperature float64
}

// Client replays Replies in order and records every call.
type Client struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

func New(replies ...Reply) *Client {
	return &Client{replies: replies}
}

func (c *Client) Invoke(ctx context.Context, messages []llm.Message, temperature float64) (llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{
		Messages:    append([]llm.Message(nil), messages...),
		Temperature: temperature,
	})
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	if len(c.replies) == 0 {
		return llm.Response{}, ErrScriptExhausted
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r.Response, r.Err
}

func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Client) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}
