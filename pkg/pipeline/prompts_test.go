package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHuntQL_Pipeline_LoadPrompts(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)
	require.Contains(t, p.Enrich, "{{TABLE_SCHEMAS}}")
	require.Contains(t, p.Generate, "{{SHORTLISTED_SCHEMAS}}")
	require.Contains(t, p.Generate, "{{ENRICHED_QUERY}}")
	for _, key := range []string{"{{ORIGINAL_QUERY}}", "{{VALIDATION_ERROR}}", "{{SHORTLISTED_SCHEMAS}}", "{{ENRICHED_QUERY}}"} {
		require.Contains(t, p.Repair, key)
	}
}

func TestHuntQL_Pipeline_Render(t *testing.T) {
	t.Parallel()

	got := render("q={{A}} e={{B}} again={{A}}", map[string]string{"A": "x {{B}}", "B": "y"})
	require.Equal(t, "q=x {{B}} e=y again=x {{B}}", got)
}
