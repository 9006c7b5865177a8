package checker

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/huntql/pkg/kql"
	"github.com/malbeclabs/huntql/pkg/schema"
)

// Local checks queries in-process with the structural KQL analyzer.
type Local struct {
	log      *slog.Logger
	registry *schema.Registry
}

func NewLocal(log *slog.Logger, registry *schema.Registry) (*Local, error) {
	if log == nil {
		return nil, ErrLoggerRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	return &Local{log: log, registry: registry}, nil
}

func (l *Local) Check(ctx context.Context, query string, sources []string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if diag := kql.Analyze(query, l.registry, sources); diag != nil {
		l.log.Debug("checker: query rejected", "error", diag.Error())
		return Invalid(diag.Error()), nil
	}
	return Valid(), nil
}
