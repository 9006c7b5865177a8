package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/huntql/pkg/checker"
)

var ErrQueryRequired = errors.New("query is required")

type ValidateInput struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources" jsonschema:"shortlisted tables the query must reference"`
}

type ValidateOutput struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func registerValidateTool(log *slog.Logger, server *mcp.Server, chk checker.Checker) error {
	return addTool(log, server, toolValidate, "Check a KQL query against the known tables and the given shortlist.",
		func(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
			return handleValidate(ctx, chk, in)
		})
}

func handleValidate(ctx context.Context, chk checker.Checker, in ValidateInput) (ValidateOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return ValidateOutput{}, ErrQueryRequired
	}
	verdict, err := chk.Check(ctx, in.Query, in.Sources)
	if err != nil {
		return ValidateOutput{}, fmt.Errorf("failed to check query: %w", err)
	}
	return ValidateOutput{Valid: verdict.Valid, Error: verdict.Error}, nil
}
