package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/stretchr/testify/require"
)

var (
	t0      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sources = []string{"Email", "PassiveDNS", "ProcessEvents", "FileCreationEvents"}
)

func enrichedSession(t *testing.T, maxRetries int) Session {
	t.Helper()
	s, err := Transition(NewSession("s1", "who mailed us from evil.com?", maxRetries, t0),
		Enriched{Description: "Find mail from evil.com", Sources: sources, At: t0})
	require.NoError(t, err)
	return s
}

func TestHuntQL_Pipeline_Transition_Enriched(t *testing.T) {
	t.Parallel()

	in := NewSession("s1", "q", 2, t0)
	src := []string{"A", "B", "C", "D"}
	s, err := Transition(in, Enriched{Description: "desc", Sources: src, At: t0})
	require.NoError(t, err)

	want := in
	want.EnrichedDescription = "desc"
	want.CandidateSources = []string{"A", "B", "C", "D"}
	want.Phase = PhaseGenerating
	want.Log = NewLog(Entry{Role: "assistant", Kind: EntryEnriched, Text: "Enriched request: desc (Tables: A, B, C, D)", At: t0})
	if diff := cmp.Diff(want, s, cmp.AllowUnexported(Log{})); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	// The session keeps its own copy of the sources.
	src[0] = "Z"
	require.Equal(t, "A", s.CandidateSources[0])

	// The input session is untouched.
	require.Equal(t, PhaseEnriching, in.Phase)
	require.Equal(t, 0, in.Log.Len())

	_, err = Transition(in, Enriched{Description: "desc", Sources: src[:3], At: t0})
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestHuntQL_Pipeline_Transition_ValidationCycle(t *testing.T) {
	t.Parallel()

	s := enrichedSession(t, 2)
	s, err := Transition(s, Generated{Query: "Email | take 1", At: t0})
	require.NoError(t, err)
	require.Equal(t, PhaseValidating, s.Phase)
	require.Equal(t, StatusUnvalidated, s.Status)

	// An invalid verdict with retries left moves to repairing without a log entry.
	before := s.Log.Len()
	s, err = Transition(s, Checked{Verdict: checker.Invalid("Semantic error: bad"), At: t0})
	require.NoError(t, err)
	require.Equal(t, PhaseRepairing, s.Phase)
	require.Equal(t, "Semantic error: bad", s.ValidationError)
	require.Equal(t, before, s.Log.Len())
	require.Equal(t, 1, s.ValidationAttempts)

	s, err = Transition(s, Repaired{Query: "Email | take 2", At: t0})
	require.NoError(t, err)
	require.Equal(t, PhaseValidating, s.Phase)
	require.Equal(t, StatusRetrying, s.Status)
	require.Equal(t, 1, s.RetryCount)
	require.Equal(t, "Email | take 2", s.CurrentQuery)
	require.Equal(t, "Semantic error: bad", s.ValidationError)
	last, _ := s.Log.Last()
	require.Equal(t, "KQL Fix Attempted: Email | take 2 (Error: Semantic error: bad)", last.Text)

	done := t0.Add(time.Second)
	s, err = Transition(s, Checked{Verdict: checker.Valid(), At: done})
	require.NoError(t, err)
	require.Equal(t, PhaseValid, s.Phase)
	require.Equal(t, StatusValid, s.Status)
	require.Empty(t, s.ValidationError)
	require.Zero(t, s.RetryCount)
	require.Equal(t, done, s.FinishedAt)
	require.Equal(t, time.Second, s.Duration())
	require.NoError(t, s.Err())
	last, _ = s.Log.Last()
	require.Equal(t, "KQL Validated: Email | take 2", last.Text)
}

func TestHuntQL_Pipeline_Transition_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	s := enrichedSession(t, 1)
	s, _ = Transition(s, Generated{Query: "q0", At: t0})
	s, _ = Transition(s, Checked{Verdict: checker.Invalid("e1"), At: t0})
	s, _ = Transition(s, Repaired{Query: "q1", At: t0})
	s, err := Transition(s, Checked{Verdict: checker.Invalid("e2"), At: t0})
	require.NoError(t, err)

	require.Equal(t, PhaseFailed, s.Phase)
	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, FailureValidation, s.Failure)
	require.Equal(t, 1, s.RetryCount)
	require.Equal(t, "q1", s.CurrentQuery)
	require.Equal(t, "e2", s.ValidationError)
	last, _ := s.Log.Last()
	require.Equal(t, "KQL Validation Failed after retries: q1 (Error: e2)", last.Text)

	var vf *ValidationFailure
	require.ErrorAs(t, s.Err(), &vf)
	require.Equal(t, "q1", vf.Query)
	require.Equal(t, "e2", vf.Reason)
}

func TestHuntQL_Pipeline_Transition_EmptyVerdictError(t *testing.T) {
	t.Parallel()

	s := enrichedSession(t, 2)
	s, _ = Transition(s, Generated{Query: "q0", At: t0})
	s, err := Transition(s, Checked{Verdict: checker.Verdict{Valid: false}, At: t0})
	require.NoError(t, err)
	require.NotEmpty(t, s.ValidationError)
}

func TestHuntQL_Pipeline_Transition_Failures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("enrichment", func(t *testing.T) {
		t.Parallel()
		s, err := Transition(NewSession("s", "q", 2, t0), EnrichmentFailed{Err: &EnrichmentError{Err: boom}, At: t0})
		require.NoError(t, err)
		require.Equal(t, StatusFailed, s.Status)
		require.Equal(t, "boom", s.ValidationError)
		last, _ := s.Log.Last()
		require.Equal(t, "Error enriching request: boom", last.Text)
		var ee *EnrichmentError
		require.ErrorAs(t, s.Err(), &ee)
	})

	t.Run("generation", func(t *testing.T) {
		t.Parallel()
		s, err := Transition(enrichedSession(t, 2), GenerationFailed{Err: &GenerationError{Err: boom}, At: t0})
		require.NoError(t, err)
		require.Equal(t, PhaseFailed, s.Phase)
		require.Empty(t, s.CurrentQuery)
		require.Zero(t, s.ValidationAttempts)
		last, _ := s.Log.Last()
		require.Equal(t, "Error generating KQL: boom", last.Text)
		var ge *GenerationError
		require.ErrorAs(t, s.Err(), &ge)
	})

	t.Run("checker", func(t *testing.T) {
		t.Parallel()
		s, _ := Transition(enrichedSession(t, 2), Generated{Query: "q0", At: t0})
		s, err := Transition(s, CheckFailed{Err: boom, At: t0})
		require.NoError(t, err)
		require.Equal(t, FailureCheck, s.Failure)
		require.Equal(t, "q0", s.CurrentQuery)
		last, _ := s.Log.Last()
		require.Equal(t, "Error validating KQL: boom", last.Text)
		var vf *ValidationFailure
		require.ErrorAs(t, s.Err(), &vf)
		require.Error(t, vf.Err)
	})

	t.Run("repair", func(t *testing.T) {
		t.Parallel()
		s, _ := Transition(enrichedSession(t, 2), Generated{Query: "q0", At: t0})
		s, _ = Transition(s, Checked{Verdict: checker.Invalid("bad"), At: t0})
		s, err := Transition(s, RepairFailed{Err: &RepairError{Err: boom}, At: t0})
		require.NoError(t, err)
		require.Equal(t, StatusFailed, s.Status)
		require.Zero(t, s.RetryCount)
		require.Equal(t, "q0", s.CurrentQuery)
		require.Equal(t, "Error during KQL fix attempt: boom", s.ValidationError)
		last, _ := s.Log.Last()
		require.Equal(t, "Error during KQL fix attempt: boom", last.Text)
		var re *RepairError
		require.ErrorAs(t, s.Err(), &re)
	})
}

func TestHuntQL_Pipeline_Transition_Illegal(t *testing.T) {
	t.Parallel()

	s := NewSession("s", "q", 2, t0)
	_, err := Transition(s, Generated{Query: "q", At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = Transition(s, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	s = enrichedSession(t, 2)
	_, err = Transition(s, Repaired{Query: "q", At: t0})
	require.ErrorIs(t, err, ErrInvalidTransition)

	s, _ = Transition(s, GenerationFailed{Err: errors.New("x"), At: t0})
	got, err := Transition(s, Generated{Query: "q", At: t0})
	require.ErrorIs(t, err, ErrTerminal)
	require.Equal(t, s.Log.Len(), got.Log.Len())
}
