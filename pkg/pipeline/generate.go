package pipeline

import (
	"context"

	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/schema"
)

const (
	DefaultGenerateTemperature = 0.2
	DefaultRepairTemperature   = 0.5
	DefaultEnrichTemperature   = 0.0

	closingGenerate = "Return only the KQL query."
	closingRepair   = "Return only the corrected KQL query."
)

// Generator writes the first query of a session.
type Generator struct {
	llm         llm.Client
	registry    *schema.Registry
	prompt      string
	temperature float64
}

func NewGenerator(client llm.Client, registry *schema.Registry, prompts *Prompts, temperature float64) (*Generator, error) {
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
	return &Generator{llm: client, registry: registry, prompt: prompts.Generate, temperature: temperature}, nil
}

// Generate returns the trimmed query text, or a *GenerationError.
func (g *Generator) Generate(ctx context.Context, description string, sources []string, history Log) (string, error) {
	system := render(g.prompt, map[string]string{
		"SHORTLISTED_SCHEMAS": g.registry.Text(sources),
		"ENRICHED_QUERY":      description,
	})
	query, err := invokeText(ctx, g.llm, conversation(system, description, history, closingGenerate), g.temperature)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	return query, nil
}

// conversation lays out a stage call: the rendered prompt, the request as
// the opening user turn, the session history, then the closing instruction.
func conversation(system, request string, history Log, closing string) []llm.Message {
	msgs := make([]llm.Message, 0, history.Len()+3)
	msgs = append(msgs, llm.SystemMessage(system), llm.UserMessage(request))
	msgs = append(msgs, history.Messages()...)
	return append(msgs, llm.UserMessage(closing))
}

func invokeText(ctx context.Context, client llm.Client, msgs []llm.Message, temperature float64) (string, error) {
	resp, err := client.Invoke(ctx, msgs, temperature)
	if err != nil {
		return "", err
	}
	return llm.ExtractText(resp)
}
