package pipeline

import (
	"errors"
	"testing"

	"github.com/malbeclabs/huntql/pkg/llm/llmtest"
	"github.com/malbeclabs/huntql/pkg/schema"
	"github.com/stretchr/testify/require"
)

const enrichJSON = `{"enriched_query": "Find email sent by attacker@evil.com and related activity.", "shortlisted_tables": ["Email", "PassiveDNS", "ProcessEvents", "FileCreationEvents"]}`

func TestHuntQL_Pipeline_ParseEnrichment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		wantErr  bool
	}{
		{name: "raw object", response: enrichJSON},
		{name: "json fence", response: "Here you go:\n```json\n" + enrichJSON + "\n```"},
		{name: "generic fence", response: "```\n" + enrichJSON + "\n```"},
		{name: "surrounded by prose", response: "Sure. " + enrichJSON + " Let me know."},
		{name: "braces inside strings", response: `{"enriched_query": "match {x} and \"}\"", "shortlisted_tables": ["A", "B", "C", "D"]} trailing}`},
		{name: "no object", response: "I cannot help with that.", wantErr: true},
		{name: "truncated object", response: `{"enriched_query": "x", "shortlisted_tables": ["A"`, wantErr: true},
		{name: "three tables", response: `{"enriched_query": "x", "shortlisted_tables": ["A", "B", "C"]}`, wantErr: true},
		{name: "empty description", response: `{"enriched_query": " ", "shortlisted_tables": ["A", "B", "C", "D"]}`, wantErr: true},
		{name: "blank table", response: `{"enriched_query": "x", "shortlisted_tables": ["A", "", "C", "D"]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			en, err := parseEnrichment(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, en.Description)
			require.Len(t, en.Sources, CandidateCount)
		})
	}
}

func TestHuntQL_Pipeline_LLMEnricher(t *testing.T) {
	t.Parallel()

	reg, err := schema.Default()
	require.NoError(t, err)

	t.Run("sends catalog and question", func(t *testing.T) {
		t.Parallel()

		client := llmtest.New(llmtest.Text(enrichJSON))
		e, err := NewLLMEnricher(client, reg, nil, 0)
		require.NoError(t, err)

		history := NewLog(Question("earlier question"), Answer("earlier answer"))
		en, err := e.Enrich(t.Context(), "emails from attacker@evil.com", history)
		require.NoError(t, err)
		require.Equal(t, []string{"Email", "PassiveDNS", "ProcessEvents", "FileCreationEvents"}, en.Sources)

		calls := client.Calls()
		require.Len(t, calls, 1)
		require.Zero(t, calls[0].Temperature)
		msgs := calls[0].Messages
		require.Len(t, msgs, 4)
		require.Contains(t, msgs[0].Content, "Table: AuthenticationEvents")
		require.NotContains(t, msgs[0].Content, "{{TABLE_SCHEMAS}}")
		require.Equal(t, "earlier question", msgs[1].Content)
		require.Equal(t, "emails from attacker@evil.com", msgs[3].Content)
	})

	t.Run("wraps failures", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("provider down")
		client := llmtest.New(llmtest.Fail(boom), llmtest.Text("no json here"))
		e, err := NewLLMEnricher(client, reg, nil, 0)
		require.NoError(t, err)

		_, err = e.Enrich(t.Context(), "q", Log{})
		var ee *EnrichmentError
		require.ErrorAs(t, err, &ee)
		require.ErrorIs(t, err, boom)

		_, err = e.Enrich(t.Context(), "q", Log{})
		require.ErrorAs(t, err, &ee)
	})
}
