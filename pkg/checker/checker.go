// Package checker provides query checkers: a deterministic local KQL
// analyzer, a client for a remote analyzer service, and a caching decorator.
package checker

import (
	"context"
	"errors"
)

var (
	ErrLoggerRequired   = errors.New("logger is required")
	ErrRegistryRequired = errors.New("registry is required")
	ErrURLRequired      = errors.New("url is required")
	ErrCheckerRequired  = errors.New("checker is required")
)

// Verdict is the outcome of checking one query. Error is empty iff Valid.
type Verdict struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func Valid() Verdict {
	return Verdict{Valid: true}
}

func Invalid(msg string) Verdict {
	return Verdict{Error: msg}
}

// Checker decides whether a query is valid for the given shortlisted
// sources. A returned error means the check itself could not be performed.
type Checker interface {
	Check(ctx context.Context, query string, sources []string) (Verdict, error)
}

// Func adapts a function to the Checker interface.
type Func func(ctx context.Context, query string, sources []string) (Verdict, error)

func (f Func) Check(ctx context.Context, query string, sources []string) (Verdict, error) {
	return f(ctx, query, sources)
}
