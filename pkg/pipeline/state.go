package pipeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/llm"
)

// Event is something a stage reported. The set is closed.
type Event interface {
	occurredAt() time.Time
}

type Enriched struct {
	Description string
	Sources     []string
	At          time.Time
}

type EnrichmentFailed struct {
	Err error
	At  time.Time
}

type Generated struct {
	Query string
	At    time.Time
}

type GenerationFailed struct {
	Err error
	At  time.Time
}

// Checked carries the checker's verdict on the current query.
type Checked struct {
	Verdict checker.Verdict
	At      time.Time
}

// CheckFailed means the checker could not produce a verdict at all.
type CheckFailed struct {
	Err error
	At  time.Time
}

type Repaired struct {
	Query string
	At    time.Time
}

type RepairFailed struct {
	Err error
	At  time.Time
}

func (e Enriched) occurredAt() time.Time         { return e.At }
func (e EnrichmentFailed) occurredAt() time.Time { return e.At }
func (e Generated) occurredAt() time.Time        { return e.At }
func (e GenerationFailed) occurredAt() time.Time { return e.At }
func (e Checked) occurredAt() time.Time          { return e.At }
func (e CheckFailed) occurredAt() time.Time      { return e.At }
func (e Repaired) occurredAt() time.Time         { return e.At }
func (e RepairFailed) occurredAt() time.Time     { return e.At }

// phaseFor is the only phase in which each event is legal.
func phaseFor(ev Event) Phase {
	switch ev.(type) {
	case Enriched, EnrichmentFailed:
		return PhaseEnriching
	case Generated, GenerationFailed:
		return PhaseGenerating
	case Checked, CheckFailed:
		return PhaseValidating
	case Repaired, RepairFailed:
		return PhaseRepairing
	}
	return ""
}

// failureFor builds the failure event of a phase, for callers that must end
// a session from outside the normal stage flow.
func failureFor(p Phase, err error, at time.Time) Event {
	switch p {
	case PhaseEnriching:
		return EnrichmentFailed{Err: err, At: at}
	case PhaseGenerating:
		return GenerationFailed{Err: err, At: at}
	case PhaseRepairing:
		return RepairFailed{Err: err, At: at}
	default:
		return CheckFailed{Err: err, At: at}
	}
}

// Transition applies ev to s and returns the next session. It is pure: s is
// never modified, and the result shares no mutable state with s.
//
// Every event appends exactly one log entry, except an invalid verdict while
// retries remain; that only moves the session to repairing, and the repair
// event records the attempt.
func Transition(s Session, ev Event) (Session, error) {
	if s.Terminal() {
		return s, ErrTerminal
	}
	if want := phaseFor(ev); want != s.Phase {
		return s, fmt.Errorf("%w: %T in phase %s", ErrInvalidTransition, ev, s.Phase)
	}
	at := ev.occurredAt()

	switch ev := ev.(type) {
	case Enriched:
		if len(ev.Sources) != CandidateCount {
			return s, ErrNoCandidates
		}
		s.EnrichedDescription = ev.Description
		s.CandidateSources = slices.Clone(ev.Sources)
		s.Phase = PhaseGenerating
		s.Log = s.Log.Append(entry(EntryEnriched, at,
			"Enriched request: %s (Tables: %s)", ev.Description, strings.Join(ev.Sources, ", ")))

	case EnrichmentFailed:
		msg := errText(ev.Err)
		s = fail(s, FailureEnrichment, msg, at)
		s.Log = s.Log.Append(entry(EntryEnrichmentFailed, at, "Error enriching request: %s", msg))

	case Generated:
		s.CurrentQuery = ev.Query
		s.Status = StatusUnvalidated
		s.ValidationError = ""
		s.Phase = PhaseValidating
		s.Log = s.Log.Append(entry(EntryGenerated, at, "Generated KQL: %s", ev.Query))

	case GenerationFailed:
		msg := errText(ev.Err)
		s.CurrentQuery = ""
		s = fail(s, FailureGeneration, msg, at)
		s.Log = s.Log.Append(entry(EntryGenerationFailed, at, "Error generating KQL: %s", msg))

	case Checked:
		s.ValidationAttempts++
		if ev.Verdict.Valid {
			s.Status = StatusValid
			s.ValidationError = ""
			s.RetryCount = 0
			s.Phase = PhaseValid
			s.FinishedAt = at
			s.Log = s.Log.Append(entry(EntryValidated, at, "KQL Validated: %s", s.CurrentQuery))
			break
		}
		reason := ev.Verdict.Error
		if reason == "" {
			reason = "query rejected by checker"
		}
		if s.RetryCount < s.MaxRetries {
			s.ValidationError = reason
			s.Phase = PhaseRepairing
			break
		}
		s = fail(s, FailureValidation, reason, at)
		s.Log = s.Log.Append(entry(EntryValidationFailed, at,
			"KQL Validation Failed after retries: %s (Error: %s)", s.CurrentQuery, reason))

	case CheckFailed:
		s.ValidationAttempts++
		msg := errText(ev.Err)
		s = fail(s, FailureCheck, msg, at)
		s.Log = s.Log.Append(entry(EntryCheckFailed, at, "Error validating KQL: %s", msg))

	case Repaired:
		s.Log = s.Log.Append(entry(EntryRepaired, at,
			"KQL Fix Attempted: %s (Error: %s)", ev.Query, s.ValidationError))
		s.CurrentQuery = ev.Query
		s.Status = StatusRetrying
		s.RetryCount++
		s.Phase = PhaseValidating

	case RepairFailed:
		msg := "Error during KQL fix attempt: " + errText(ev.Err)
		s = fail(s, FailureRepair, msg, at)
		s.Log = s.Log.Append(entry(EntryRepairFailed, at, "%s", msg))
	}
	return s, nil
}

func fail(s Session, f Failure, reason string, at time.Time) Session {
	s.Status = StatusFailed
	s.ValidationError = reason
	s.Failure = f
	s.Phase = PhaseFailed
	s.FinishedAt = at
	return s
}

func entry(kind EntryKind, at time.Time, format string, args ...any) Entry {
	return Entry{Role: llm.RoleAssistant, Kind: kind, Text: fmt.Sprintf(format, args...), At: at}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return causeOf(err).Error()
}
