package pipeline

import (
	"context"

	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/schema"
)

// Validator checks queries and repairs the ones that fail.
type Validator struct {
	checker     checker.Checker
	llm         llm.Client
	registry    *schema.Registry
	prompt      string
	temperature float64
}

func NewValidator(chk checker.Checker, client llm.Client, registry *schema.Registry, prompts *Prompts, temperature float64) (*Validator, error) {
	if chk == nil {
		return nil, ErrCheckerRequired
	}
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
	return &Validator{checker: chk, llm: client, registry: registry, prompt: prompts.Repair, temperature: temperature}, nil
}

// Validate delegates to the checker. An error means no verdict was reached.
func (v *Validator) Validate(ctx context.Context, query string, sources []string) (checker.Verdict, error) {
	return v.checker.Check(ctx, query, sources)
}

// Repair asks the model for a replacement of a failing query. It returns
// the trimmed query text, or a *RepairError.
func (v *Validator) Repair(ctx context.Context, query, verdictErr string, sources []string, description string, history Log) (string, error) {
	system := render(v.prompt, map[string]string{
		"ORIGINAL_QUERY":      query,
		"VALIDATION_ERROR":    verdictErr,
		"SHORTLISTED_SCHEMAS": v.registry.Text(sources),
		"ENRICHED_QUERY":      description,
	})
	fixed, err := invokeText(ctx, v.llm, conversation(system, description, history, closingRepair), v.temperature)
	if err != nil {
		return "", &RepairError{Err: err}
	}
	return fixed, nil
}
