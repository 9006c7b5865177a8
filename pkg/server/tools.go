package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/huntql/internal/metrics"
)

const (
	toolGenerate = "generate_kql"
	toolSources  = "list_sources"
	toolValidate = "validate_kql"
)

func (s *Server) registerTools() error {
	if err := registerGenerateTool(s.log, s.mcp, s.cfg.Hunter); err != nil {
		return err
	}
	if err := registerSourcesTool(s.log, s.mcp, s.cfg.Registry); err != nil {
		return err
	}
	return registerValidateTool(s.log, s.mcp, s.cfg.Checker)
}

// addTool registers a typed tool and records call metrics around it.
func addTool[In, Out any](log *slog.Logger, server *mcp.Server, name, description string, handle func(context.Context, In) (Out, error)) error {
	req, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}
	res, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", name, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		startTime := time.Now()
		out, err := handle(ctx, in)
		duration := time.Since(startTime).Seconds()

		log.Debug("mcp/tool: handled call", "tool", name, "duration", duration, "error", err)

		metrics.ToolCallDuration.WithLabelValues(name).Observe(duration)
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, metrics.StatusError).Inc()
			var zero Out
			return nil, zero, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, metrics.StatusSuccess).Inc()
		return nil, out, nil
	})
	return nil
}
