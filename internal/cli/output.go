package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/malbeclabs/huntql/pkg/pipeline"
	"github.com/malbeclabs/huntql/pkg/schema"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

// printResult prints the final state of a session followed by its
// conversation log.
func printResult(w io.Writer, s pipeline.Session) {
	fmt.Fprintln(w, "--- Final Results ---")
	table := newTable(w, "Field", "Value")
	table.SetRowLine(true)
	table.Append([]string{"User Query", s.UserQuery})
	table.Append([]string{"Enriched Query", s.EnrichedDescription})
	table.Append([]string{"Shortlisted Tables", strings.Join(s.CandidateSources, ", ")})
	table.Append([]string{"Final KQL Query", s.CurrentQuery})
	table.Append([]string{"Validation Status", string(s.Status)})
	if s.ValidationError != "" {
		table.Append([]string{"Validation Error", s.ValidationError})
	}
	table.Append([]string{"Retries", strconv.Itoa(s.RetryCount)})
	table.Render()

	printLog(w, s.Log)
}

func printLog(w io.Writer, log pipeline.Log) {
	if log.Len() == 0 {
		return
	}
	fmt.Fprintln(w, "--- Conversation Log ---")
	table := newTable(w, "#", "Role", "Entry")
	for i, e := range log.Entries() {
		table.Append([]string{strconv.Itoa(i + 1), string(e.Role), e.Text})
	}
	table.Render()
}

// printSummary prints one row per session.
func printSummary(w io.Writer, sessions []pipeline.Session) {
	table := newTable(w, "ID", "Created", "Outcome", "Retries", "Question", "Query")
	for _, s := range sessions {
		table.Append([]string{
			shortID(s.ID),
			s.CreatedAt.Local().Format(time.DateTime),
			s.Outcome(),
			strconv.Itoa(s.RetryCount),
			s.UserQuery,
			s.CurrentQuery,
		})
	}
	table.Render()
}

func printSources(w io.Writer, registry *schema.Registry) {
	table := newTable(w, "Table", "Columns")
	for _, name := range registry.Names() {
		fields, _ := registry.Fields(name)
		cols := make([]string, len(fields))
		for i, f := range fields {
			cols[i] = f.Name
		}
		table.Append([]string{name, strings.Join(cols, ", ")})
	}
	table.Render()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
