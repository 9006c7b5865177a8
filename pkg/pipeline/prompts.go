package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/huntql/pkg/pipeline/prompts"
)

// Prompts contains the stage prompts loaded from embedded files.
type Prompts struct {
	Enrich   string // Question enrichment and table shortlisting
	Generate string // KQL generation
	Repair   string // KQL repair after a failed validation
}

// LoadPrompts loads all prompts from the embedded filesystem.
func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Enrich, err = loadPrompt("ENRICH.md"); err != nil {
		return nil, fmt.Errorf("failed to load ENRICH: %w", err)
	}
	if p.Generate, err = loadPrompt("GENERATE.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE: %w", err)
	}
	if p.Repair, err = loadPrompt("REPAIR.md"); err != nil {
		return nil, fmt.Errorf("failed to load REPAIR: %w", err)
	}
	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// render fills {{KEY}} placeholders. Values are substituted once each, so a
// value that itself contains a placeholder is left alone.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
