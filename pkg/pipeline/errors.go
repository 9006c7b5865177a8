package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrLoggerRequired   = errors.New("logger is required")
	ErrLLMRequired      = errors.New("llm client is required")
	ErrCheckerRequired  = errors.New("checker is required")
	ErrRegistryRequired = errors.New("schema registry is required")
	ErrMaxRetries       = errors.New("max retries must not be negative")
	ErrTemperature      = errors.New("repair temperature must not be lower than generation temperature")

	// ErrInvalidTransition is returned when an event is not legal in the
	// current phase.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTerminal is returned when an event is applied to a finished session.
	ErrTerminal = errors.New("session is terminal")
	// ErrNoCandidates is returned when enrichment does not yield exactly
	// CandidateCount sources.
	ErrNoCandidates = fmt.Errorf("enrichment must shortlist exactly %d tables", CandidateCount)
)

// EnrichmentError is returned when the enrichment response cannot be used.
type EnrichmentError struct {
	Err error
}

func (e *EnrichmentError) Error() string { return "failed to enrich request: " + e.Err.Error() }
func (e *EnrichmentError) Unwrap() error { return e.Err }
func (e *EnrichmentError) cause() error  { return e.Err }

// GenerationError is returned when the model yields no usable query.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "failed to generate query: " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }
func (e *GenerationError) cause() error  { return e.Err }

// ValidationFailure describes a query the checker rejected after the retry
// bound was reached. Err is set when the checker itself failed.
type ValidationFailure struct {
	Query  string
	Reason string
	Err    error
}

func (e *ValidationFailure) Error() string {
	if e.Err != nil {
		return "failed to validate query: " + e.Err.Error()
	}
	return "query failed validation: " + e.Reason
}

func (e *ValidationFailure) Unwrap() error { return e.Err }

// RepairError is returned when the model yields no usable corrected query.
type RepairError struct {
	Err error
}

func (e *RepairError) Error() string { return "failed to repair query: " + e.Err.Error() }
func (e *RepairError) Unwrap() error { return e.Err }
func (e *RepairError) cause() error  { return e.Err }

type errorString string

func (e errorString) Error() string { return string(e) }

// causeOf strips a stage error down to what went wrong inside the stage.
func causeOf(err error) error {
	var se interface{ cause() error }
	if errors.As(err, &se) && se.cause() != nil {
		return se.cause()
	}
	return err
}
