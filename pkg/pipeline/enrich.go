package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/schema"
)

// Enrichment is the enriched task description plus the shortlisted sources.
type Enrichment struct {
	Description string   `json:"enriched_query"`
	Sources     []string `json:"shortlisted_tables"`
}

// Enricher turns a raw question into an Enrichment. Implementations must
// return exactly CandidateCount sources or an error.
type Enricher interface {
	Enrich(ctx context.Context, query string, history Log) (Enrichment, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, query string, history Log) (Enrichment, error)

func (f EnricherFunc) Enrich(ctx context.Context, query string, history Log) (Enrichment, error) {
	return f(ctx, query, history)
}

// LLMEnricher asks the model to pick the sources from the full catalog.
type LLMEnricher struct {
	llm         llm.Client
	prompt      string
	temperature float64
}

func NewLLMEnricher(client llm.Client, registry *schema.Registry, prompts *Prompts, temperature float64) (*LLMEnricher, error) {
	if client == nil {
		return nil, ErrLLMRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(); err != nil {
			return nil, err
		}
	}
	return &LLMEnricher{
		llm:         client,
		prompt:      render(prompts.Enrich, map[string]string{"TABLE_SCHEMAS": strings.TrimSpace(registry.AllText())}),
		temperature: temperature,
	}, nil
}

// Enrich returns an *EnrichmentError for any failure. Unknown table names
// are passed through; they surface later as schema warnings.
func (e *LLMEnricher) Enrich(ctx context.Context, query string, history Log) (Enrichment, error) {
	msgs := make([]llm.Message, 0, history.Len()+2)
	msgs = append(msgs, llm.SystemMessage(e.prompt))
	msgs = append(msgs, history.Messages()...)
	msgs = append(msgs, llm.UserMessage(query))

	resp, err := e.llm.Invoke(ctx, msgs, e.temperature)
	if err != nil {
		return Enrichment{}, &EnrichmentError{Err: err}
	}
	text, err := llm.ExtractText(resp)
	if err != nil {
		return Enrichment{}, &EnrichmentError{Err: err}
	}
	en, err := parseEnrichment(text)
	if err != nil {
		return Enrichment{}, &EnrichmentError{Err: err}
	}
	return en, nil
}

func parseEnrichment(response string) (Enrichment, error) {
	raw := extractJSON(response)
	if raw == "" {
		return Enrichment{}, errors.New("no JSON object in response")
	}
	var en Enrichment
	if err := json.Unmarshal([]byte(raw), &en); err != nil {
		return Enrichment{}, fmt.Errorf("failed to parse enrichment: %w", err)
	}
	en.Description = strings.TrimSpace(en.Description)
	if en.Description == "" {
		return Enrichment{}, errors.New("enriched_query is empty")
	}
	if len(en.Sources) != CandidateCount {
		return Enrichment{}, fmt.Errorf("%w: got %d", ErrNoCandidates, len(en.Sources))
	}
	for i, name := range en.Sources {
		en.Sources[i] = strings.TrimSpace(name)
		if en.Sources[i] == "" {
			return Enrichment{}, fmt.Errorf("shortlisted table %d is empty", i)
		}
	}
	return en, nil
}

// extractJSON finds the JSON object in a model response: a ```json block, a
// generic code block starting with '{', or the first balanced object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
