package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/llm/llmtest"
	"github.com/malbeclabs/huntql/pkg/schema"
	"github.com/stretchr/testify/require"
)

// countingChecker replays verdicts in order, repeating the last one.
type countingChecker struct {
	mu       sync.Mutex
	verdicts []checker.Verdict
	err      error
	queries  []string
}

func (c *countingChecker) Check(_ context.Context, query string, _ []string) (checker.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, query)
	if c.err != nil {
		return checker.Verdict{}, c.err
	}
	v := c.verdicts[0]
	if len(c.verdicts) > 1 {
		c.verdicts = c.verdicts[1:]
	}
	return v, nil
}

func (c *countingChecker) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries)
}

func newTestController(t *testing.T, client llm.Client, chk checker.Checker, opts ...func(*Config)) *Controller {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	cfg := Config{
		Logger:   logger,
		LLM:      client,
		Checker:  chk,
		Registry: reg,
		Clock:    clockwork.NewFakeClockAt(t0),
		NewID:    func() string { return "session-1" },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func temperatures(calls []llmtest.Call) []float64 {
	out := make([]float64, len(calls))
	for i, c := range calls {
		out[i] = c.Temperature
	}
	return out
}

func TestHuntQL_Pipeline_Controller_AlwaysValid(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Text(`Email | where sender == "attacker@evil.com"`),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Valid()}}

	s := newTestController(t, client, chk).Run(t.Context(), "emails from attacker@evil.com")

	require.Equal(t, "session-1", s.ID)
	require.Equal(t, PhaseValid, s.Phase)
	require.Equal(t, StatusValid, s.Status)
	require.Equal(t, `Email | where sender == "attacker@evil.com"`, s.CurrentQuery)
	require.Empty(t, s.ValidationError)
	require.Zero(t, s.RetryCount)
	require.Equal(t, 1, s.ValidationAttempts)
	require.Equal(t, 1, chk.calls())
	require.Equal(t, []float64{0, DefaultGenerateTemperature}, temperatures(client.Calls()))
	require.Equal(t, t0, s.CreatedAt)
	require.Equal(t, t0, s.FinishedAt)

	var texts []string
	for _, e := range s.Log.Entries() {
		texts = append(texts, e.Text)
	}
	require.Equal(t, []string{
		"Enriched request: Find email sent by attacker@evil.com and related activity. (Tables: Email, PassiveDNS, ProcessEvents, FileCreationEvents)",
		`Generated KQL: Email | where sender == "attacker@evil.com"`,
		`KQL Validated: Email | where sender == "attacker@evil.com"`,
	}, texts)
}

func TestHuntQL_Pipeline_Controller_AlwaysInvalid(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Text("Email | where invalid_field == 1"),
		llmtest.Text("Email | where invalid_field == 2"),
		llmtest.Text("Email | where invalid_field == 3"),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Invalid("Semantic error: 'invalid_field' is not a recognized column.")}}

	s := newTestController(t, client, chk).Run(t.Context(), "q")

	require.Equal(t, PhaseFailed, s.Phase)
	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, 2, s.RetryCount)
	require.Equal(t, 3, s.ValidationAttempts)
	require.Equal(t, "Email | where invalid_field == 3", s.CurrentQuery)
	require.Equal(t, "Semantic error: 'invalid_field' is not a recognized column.", s.ValidationError)
	require.Zero(t, client.Remaining())
	require.Equal(t, []float64{0, 0.2, 0.5, 0.5}, temperatures(client.Calls()))

	// enriched, generated, two fixes, final failure
	require.Equal(t, 5, s.Log.Len())
	last, _ := s.Log.Last()
	require.Equal(t, "KQL Validation Failed after retries: Email | where invalid_field == 3 (Error: Semantic error: 'invalid_field' is not a recognized column.)", last.Text)

	var vf *ValidationFailure
	require.ErrorAs(t, s.Err(), &vf)
}

func TestHuntQL_Pipeline_Controller_InvalidThenValid(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Text("Email where sender == 'x'"),
		llmtest.Text("Email | where sender == 'x'"),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{
		checker.Invalid("Syntax error: Missing pipe operator '|' before 'where'."),
		checker.Valid(),
	}}

	s := newTestController(t, client, chk).Run(t.Context(), "q")

	require.Equal(t, StatusValid, s.Status)
	require.Zero(t, s.RetryCount)
	require.Equal(t, 2, s.ValidationAttempts)
	require.Equal(t, "Email | where sender == 'x'", s.CurrentQuery)
	require.Len(t, client.Calls(), 3)
	require.Equal(t, []string{"Email where sender == 'x'", "Email | where sender == 'x'"}, chk.queries)

	entries := s.Log.Entries()
	require.Equal(t, EntryRepaired, entries[2].Kind)
	require.Equal(t, "KQL Fix Attempted: Email | where sender == 'x' (Error: Syntax error: Missing pipe operator '|' before 'where'.)", entries[2].Text)
	require.Equal(t, EntryValidated, entries[3].Kind)
}

func TestHuntQL_Pipeline_Controller_UnusableGeneration(t *testing.T) {
	t.Parallel()

	for name, reply := range map[string]llmtest.Reply{
		"blank text":     llmtest.Text("  \n"),
		"thinking only":  llmtest.Parts(llmtest.Thinking("let me think")),
		"provider error": llmtest.Fail(errors.New("rate limited")),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := llmtest.New(llmtest.Text(enrichJSON), reply)
			chk := &countingChecker{verdicts: []checker.Verdict{checker.Valid()}}

			s := newTestController(t, client, chk).Run(t.Context(), "q")

			require.Equal(t, StatusFailed, s.Status)
			require.Equal(t, FailureGeneration, s.Failure)
			require.Zero(t, s.ValidationAttempts)
			require.Zero(t, s.RetryCount)
			require.Zero(t, chk.calls())
			require.Len(t, client.Calls(), 2)
			require.NotEmpty(t, s.ValidationError)
			last, _ := s.Log.Last()
			require.Equal(t, EntryGenerationFailed, last.Kind)
			require.True(t, strings.HasPrefix(last.Text, "Error generating KQL: "))

			var ge *GenerationError
			require.ErrorAs(t, s.Err(), &ge)
		})
	}
}

func TestHuntQL_Pipeline_Controller_UnknownShortlistedSource(t *testing.T) {
	t.Parallel()

	reg, err := schema.Default()
	require.NoError(t, err)
	local, err := checker.NewLocal(logger, reg)
	require.NoError(t, err)

	client := llmtest.New(
		llmtest.Text(`{"enriched_query": "Mail from evil.com", "shortlisted_tables": ["Email", "ThreatFeed", "PassiveDNS", "IAM"]}`),
		llmtest.Text(`Email | where sender endswith "evil.com" | project event_time_1, sender, subject`),
	)

	s := newTestController(t, client, local).Run(t.Context(), "mail from evil.com")

	require.Equal(t, StatusValid, s.Status)
	require.Equal(t, []string{"Email", "ThreatFeed", "PassiveDNS", "IAM"}, s.CandidateSources)

	gen := client.Calls()[1].Messages[0].Content
	require.Contains(t, gen, "Warning: Schema for table 'ThreatFeed' not found.")
	require.Contains(t, gen, "Table: Email")
	require.Contains(t, gen, "Mail from evil.com")
}

func TestHuntQL_Pipeline_Controller_BoundedTermination(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 4; n++ {
		t.Run(fmt.Sprintf("max_retries=%d", n), func(t *testing.T) {
			t.Parallel()

			replies := []llmtest.Reply{llmtest.Text(enrichJSON), llmtest.Text("Email | take 0")}
			for i := 1; i <= n; i++ {
				replies = append(replies, llmtest.Text(fmt.Sprintf("Email | take %d", i)))
			}
			client := llmtest.New(replies...)
			chk := &countingChecker{verdicts: []checker.Verdict{checker.Invalid("nope")}}

			var (
				mu        sync.Mutex
				snapshots []Session
			)
			c := newTestController(t, client, chk, func(cfg *Config) {
				cfg.MaxRetries = ptr(n)
				cfg.OnTransition = func(s Session) {
					mu.Lock()
					snapshots = append(snapshots, s)
					mu.Unlock()
				}
			})
			s := c.Run(t.Context(), "q")

			require.True(t, s.Terminal())
			require.Equal(t, StatusFailed, s.Status)
			require.Equal(t, n, s.RetryCount)
			require.Equal(t, n+1, s.ValidationAttempts)
			require.Equal(t, fmt.Sprintf("Email | take %d", n), s.CurrentQuery)
			require.Equal(t, 2+n+1, s.Log.Len())

			// The log only grows, and earlier entries never change.
			prev := Log{}
			for _, snap := range snapshots {
				require.LessOrEqual(t, snap.RetryCount, n)
				require.GreaterOrEqual(t, snap.Log.Len(), prev.Len())
				for i, e := range prev.Entries() {
					require.Equal(t, e, snap.Log.Entries()[i])
				}
				if snap.Status == StatusValid {
					require.Zero(t, snap.RetryCount)
				}
				prev = snap.Log
			}
			require.Equal(t, s.Log.Entries(), snapshots[len(snapshots)-1].Log.Entries())
		})
	}
}

func TestHuntQL_Pipeline_Controller_RepairFailure(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Text("Email | wher x"),
		llmtest.Fail(errors.New("context window exceeded")),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Invalid("Syntax error: unknown operator 'wher'.")}}

	s := newTestController(t, client, chk).Run(t.Context(), "q")

	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, FailureRepair, s.Failure)
	require.Zero(t, s.RetryCount)
	require.Equal(t, 1, s.ValidationAttempts)
	require.Equal(t, "Email | wher x", s.CurrentQuery)
	require.Equal(t, "Error during KQL fix attempt: context window exceeded", s.ValidationError)
	last, _ := s.Log.Last()
	require.Equal(t, "Error during KQL fix attempt: context window exceeded", last.Text)
}

func TestHuntQL_Pipeline_Controller_CheckerFault(t *testing.T) {
	t.Parallel()

	client := llmtest.New(llmtest.Text(enrichJSON), llmtest.Text("Email | take 1"))
	chk := &countingChecker{err: errors.New("analyzer unavailable")}

	s := newTestController(t, client, chk).Run(t.Context(), "q")

	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, FailureCheck, s.Failure)
	require.Equal(t, "analyzer unavailable", s.ValidationError)
	require.Zero(t, client.Remaining())
	last, _ := s.Log.Last()
	require.Equal(t, "Error validating KQL: analyzer unavailable", last.Text)
}

func TestHuntQL_Pipeline_Controller_EnrichmentFailure(t *testing.T) {
	t.Parallel()

	client := llmtest.New(llmtest.Text("I'm not sure which tables to use."))
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Valid()}}

	s := newTestController(t, client, chk).Run(t.Context(), "q")

	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, FailureEnrichment, s.Failure)
	require.Empty(t, s.CandidateSources)
	require.Len(t, client.Calls(), 1)
	require.Equal(t, 1, s.Log.Len())
	last, _ := s.Log.Last()
	require.Equal(t, "Error enriching request: no JSON object in response", last.Text)

	// A custom enricher that breaks the contract fails the same way.
	client = llmtest.New()
	c := newTestController(t, client, chk, func(cfg *Config) {
		cfg.Enricher = EnricherFunc(func(context.Context, string, Log) (Enrichment, error) {
			return Enrichment{Description: "d", Sources: []string{"Email"}}, nil
		})
	})
	s = c.Run(t.Context(), "q")
	require.Equal(t, FailureEnrichment, s.Failure)
	var ee *EnrichmentError
	require.ErrorAs(t, s.Err(), &ee)
	require.Contains(t, s.ValidationError, "exactly 4 tables")
}

func TestHuntQL_Pipeline_Controller_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	client := llmtest.New(llmtest.Text(enrichJSON))
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Valid()}}

	s := newTestController(t, client, chk).Run(ctx, "q")
	require.Equal(t, StatusFailed, s.Status)
	require.Equal(t, FailureEnrichment, s.Failure)
	require.Equal(t, context.Canceled.Error(), s.ValidationError)
}

func TestHuntQL_Pipeline_Controller_MessageLayout(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Parts(llmtest.Thinking("scan Email"), llmtest.TextPart("Email "), llmtest.TextPart("| wher sender == 'x'")),
		llmtest.Text("Email | where sender == 'x'"),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Invalid("Syntax error: unknown operator 'wher'."), checker.Valid()}}

	history := NewLog(Question("what did attacker@evil.com send?"), Answer("Nothing found yet."))
	s := newTestController(t, client, chk).RunWithHistory(t.Context(), "and from evil.com?", history)
	require.Equal(t, StatusValid, s.Status)

	// The session log keeps the seeded history in front.
	entries := s.Log.Entries()
	require.Equal(t, EntryQuestion, entries[0].Kind)
	require.Equal(t, EntryAnswer, entries[1].Kind)
	require.Equal(t, EntryEnriched, entries[2].Kind)

	calls := client.Calls()

	gen := calls[1].Messages
	require.Equal(t, llm.RoleSystem, gen[0].Role)
	require.Contains(t, gen[0].Content, "Table: Email")
	require.NotContains(t, gen[0].Content, "{{")
	require.Equal(t, llm.UserMessage("Find email sent by attacker@evil.com and related activity."), gen[1])
	require.Equal(t, llm.UserMessage("what did attacker@evil.com send?"), gen[2])
	require.Equal(t, llm.RoleAssistant, gen[4].Role)
	require.Equal(t, llm.UserMessage(closingGenerate), gen[len(gen)-1])

	require.Equal(t, "Email | wher sender == 'x'", chk.queries[0])

	fix := calls[2].Messages
	require.Contains(t, fix[0].Content, "Email | wher sender == 'x'")
	require.Contains(t, fix[0].Content, "Syntax error: unknown operator 'wher'.")
	require.Contains(t, fix[0].Content, "Find email sent by attacker@evil.com")
	require.Equal(t, llm.UserMessage(closingRepair), fix[len(fix)-1])
	require.Equal(t, "Generated KQL: Email | wher sender == 'x'", fix[len(fix)-2].Content)
}

func TestHuntQL_Pipeline_Controller_ExplicitZeroTemperatures(t *testing.T) {
	t.Parallel()

	client := llmtest.New(
		llmtest.Text(enrichJSON),
		llmtest.Text("Email | wher x"),
		llmtest.Text("Email | take 1"),
	)
	chk := &countingChecker{verdicts: []checker.Verdict{checker.Invalid("bad operator"), checker.Valid()}}

	s := newTestController(t, client, chk, func(cfg *Config) {
		cfg.GenerateTemperature = ptr(0.0)
		cfg.RepairTemperature = ptr(0.0)
	}).Run(t.Context(), "q")

	require.Equal(t, StatusValid, s.Status)
	require.Equal(t, []float64{0, 0, 0}, temperatures(client.Calls()))
}

func TestHuntQL_Pipeline_Config(t *testing.T) {
	t.Parallel()

	reg, err := schema.Default()
	require.NoError(t, err)
	client := llmtest.New()
	chk := checker.Func(func(context.Context, string, []string) (checker.Verdict, error) { return checker.Valid(), nil })

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing logger", Config{LLM: client, Checker: chk, Registry: reg}, ErrLoggerRequired},
		{"missing llm", Config{Logger: logger, Checker: chk, Registry: reg}, ErrLLMRequired},
		{"missing checker", Config{Logger: logger, LLM: client, Registry: reg}, ErrCheckerRequired},
		{"missing registry", Config{Logger: logger, LLM: client, Checker: chk}, ErrRegistryRequired},
		{"negative retries", Config{Logger: logger, LLM: client, Checker: chk, Registry: reg, MaxRetries: ptr(-1)}, ErrMaxRetries},
		{"repair colder than generate", Config{Logger: logger, LLM: client, Checker: chk, Registry: reg, GenerateTemperature: ptr(0.7), RepairTemperature: ptr(0.3)}, ErrTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.ErrorIs(t, err, tt.want)
		})
	}

	c, err := New(Config{Logger: logger, LLM: client, Checker: chk, Registry: reg})
	require.NoError(t, err)
	require.Equal(t, DefaultMaxRetries, c.MaxRetries())
}
