package pipeline

import (
	"slices"
	"time"
)

// CandidateCount is the number of sources the enrichment step shortlists.
const CandidateCount = 4

// DefaultMaxRetries bounds the repair cycles of a session.
const DefaultMaxRetries = 2

// Status is the validation status of the current query.
type Status string

const (
	StatusUnvalidated Status = "unvalidated"
	StatusValid       Status = "valid"
	StatusRetrying    Status = "retrying"
	StatusFailed      Status = "failed"
)

// Phase is the state of the loop controller.
type Phase string

const (
	PhaseEnriching  Phase = "enriching"
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseRepairing  Phase = "repairing"
	PhaseValid      Phase = "valid"
	PhaseFailed     Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseValid || p == PhaseFailed
}

// Failure names the stage that ended a failed session.
type Failure string

const (
	FailureNone       Failure = ""
	FailureEnrichment Failure = "enrichment"
	FailureGeneration Failure = "generation"
	FailureValidation Failure = "validation"
	FailureCheck      Failure = "check"
	FailureRepair     Failure = "repair"
)

// Session is the state threaded through one run of the loop. It is a value:
// Transition returns an updated copy and never mutates its argument.
type Session struct {
	ID                  string    `json:"id"`
	UserQuery           string    `json:"user_query"`
	EnrichedDescription string    `json:"enriched_description"`
	CandidateSources    []string  `json:"candidate_sources"`
	CurrentQuery        string    `json:"current_query"`
	Status              Status    `json:"validation_status"`
	ValidationError     string    `json:"validation_error"`
	RetryCount          int       `json:"retry_count"`
	MaxRetries          int       `json:"max_retries"`
	Phase               Phase     `json:"phase"`
	Failure             Failure   `json:"failure,omitempty"`
	ValidationAttempts  int       `json:"validation_attempts"`
	Log                 Log       `json:"conversation_log"`
	CreatedAt           time.Time `json:"created_at"`
	FinishedAt          time.Time `json:"finished_at,omitzero"`
}

// NewSession returns a session in the enriching phase with every mutable
// field at its zero value.
func NewSession(id, userQuery string, maxRetries int, now time.Time) Session {
	return Session{
		ID:         id,
		UserQuery:  userQuery,
		Status:     StatusUnvalidated,
		MaxRetries: maxRetries,
		Phase:      PhaseEnriching,
		CreatedAt:  now,
	}
}

func (s Session) Terminal() bool {
	return s.Phase.Terminal()
}

// Sources returns a copy of the candidate sources.
func (s Session) Sources() []string {
	return slices.Clone(s.CandidateSources)
}

// Outcome is the terminal phase as a metric label, or "running".
func (s Session) Outcome() string {
	if !s.Terminal() {
		return "running"
	}
	return string(s.Phase)
}

// Duration is the wall time between creation and the terminal transition.
func (s Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.CreatedAt)
}

// Err rebuilds the typed error that ended a failed session, or nil.
func (s Session) Err() error {
	if s.Status != StatusFailed {
		return nil
	}
	cause := errorString(s.ValidationError)
	switch s.Failure {
	case FailureEnrichment:
		return &EnrichmentError{Err: cause}
	case FailureGeneration:
		return &GenerationError{Err: cause}
	case FailureRepair:
		return &RepairError{Err: cause}
	case FailureCheck:
		return &ValidationFailure{Query: s.CurrentQuery, Reason: s.ValidationError, Err: cause}
	default:
		return &ValidationFailure{Query: s.CurrentQuery, Reason: s.ValidationError}
	}
}
