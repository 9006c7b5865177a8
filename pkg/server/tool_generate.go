package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/pipeline"
)

var ErrQuestionRequired = errors.New("question is required")

type HistoryMessage struct {
	Role string `json:"role" jsonschema:"user or assistant"`
	Text string `json:"text"`
}

type GenerateInput struct {
	Question string           `json:"question" jsonschema:"natural-language threat hunting request"`
	History  []HistoryMessage `json:"history,omitempty" jsonschema:"earlier turns of the conversation, oldest first"`
}

type GenerateOutput struct {
	ID                  string           `json:"id"`
	Query               string           `json:"query"`
	Status              string           `json:"status"`
	Outcome             string           `json:"outcome"`
	ValidationError     string           `json:"validation_error,omitempty"`
	RetryCount          int              `json:"retry_count"`
	Sources             []string         `json:"sources"`
	EnrichedDescription string           `json:"enriched_description"`
	Log                 []HistoryMessage `json:"log"`
}

const generateDescription = `Translate a natural-language threat hunting request into a validated KQL query.
The request is enriched, four candidate tables are shortlisted, a query is generated and then checked.
Invalid queries are repaired a bounded number of times. The outcome is "valid" or "failed".`

func registerGenerateTool(log *slog.Logger, server *mcp.Server, hunter Hunter) error {
	return addTool(log, server, toolGenerate, generateDescription, func(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
		return handleGenerate(ctx, hunter, in)
	})
}

func handleGenerate(ctx context.Context, hunter Hunter, in GenerateInput) (GenerateOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return GenerateOutput{}, ErrQuestionRequired
	}

	entries := make([]pipeline.Entry, 0, len(in.History))
	for _, m := range in.History {
		if m.Role == string(llm.RoleAssistant) {
			entries = append(entries, pipeline.Answer(m.Text))
		} else {
			entries = append(entries, pipeline.Question(m.Text))
		}
	}

	sess := hunter.Hunt(ctx, question, pipeline.NewLog(entries...))

	out := GenerateOutput{
		ID:                  sess.ID,
		Query:               sess.CurrentQuery,
		Status:              string(sess.Status),
		Outcome:             sess.Outcome(),
		ValidationError:     sess.ValidationError,
		RetryCount:          sess.RetryCount,
		Sources:             sess.Sources(),
		EnrichedDescription: sess.EnrichedDescription,
		Log:                 make([]HistoryMessage, 0, sess.Log.Len()),
	}
	for _, e := range sess.Log.Entries() {
		out.Log = append(out.Log, HistoryMessage{Role: string(e.Role), Text: e.Text})
	}
	return out, nil
}
