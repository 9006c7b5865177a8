package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/huntql/pkg/schema"
)

type SourcesInput struct {
	Names []string `json:"names,omitempty" jsonschema:"tables to describe; all tables when empty"`
}

type SourceField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Source struct {
	Name   string        `json:"name"`
	Fields []SourceField `json:"fields"`
}

type SourcesOutput struct {
	Sources    []Source `json:"sources"`
	SchemaText string   `json:"schema_text"`
}

func registerSourcesTool(log *slog.Logger, server *mcp.Server, registry *schema.Registry) error {
	return addTool(log, server, toolSources, "List the security log tables that queries can reference, with their columns.",
		func(_ context.Context, in SourcesInput) (SourcesOutput, error) {
			return handleSources(registry, in)
		})
}

func handleSources(registry *schema.Registry, in SourcesInput) (SourcesOutput, error) {
	names := in.Names
	if len(names) == 0 {
		names = registry.Names()
	}

	out := SourcesOutput{Sources: make([]Source, 0, len(names))}
	for _, name := range names {
		fields, ok := registry.Fields(name)
		if !ok {
			return SourcesOutput{}, fmt.Errorf("unknown source %q", name)
		}
		src := Source{Name: name, Fields: make([]SourceField, 0, len(fields))}
		for _, f := range fields {
			src.Fields = append(src.Fields, SourceField{Name: f.Name, Type: f.Type})
		}
		out.Sources = append(out.Sources, src)
	}
	out.SchemaText = registry.Text(names)
	return out, nil
}
