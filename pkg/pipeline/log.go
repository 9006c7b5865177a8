package pipeline

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/malbeclabs/huntql/pkg/llm"
)

type EntryKind string

const (
	EntryQuestion         EntryKind = "question"
	EntryAnswer           EntryKind = "answer"
	EntryEnriched         EntryKind = "enriched"
	EntryEnrichmentFailed EntryKind = "enrichment_failed"
	EntryGenerated        EntryKind = "generated"
	EntryGenerationFailed EntryKind = "generation_failed"
	EntryValidated        EntryKind = "validated"
	EntryValidationFailed EntryKind = "validation_failed"
	EntryCheckFailed      EntryKind = "check_failed"
	EntryRepaired         EntryKind = "repaired"
	EntryRepairFailed     EntryKind = "repair_failed"
)

// Entry is one record in a conversation log.
type Entry struct {
	Role llm.Role  `json:"role"`
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at,omitzero"`
}

// Log is an append-only conversation record. Append never touches the
// receiver's backing array, so copies of a Session never share entries
// they can observe changing.
type Log struct {
	entries []Entry
}

// NewLog returns a log holding a copy of entries.
func NewLog(entries ...Entry) Log {
	return Log{entries: slices.Clone(entries)}
}

// Question and Answer build entries for seeding a log with an earlier
// exchange.
func Question(text string) Entry { return Entry{Role: llm.RoleUser, Kind: EntryQuestion, Text: text} }
func Answer(text string) Entry   { return Entry{Role: llm.RoleAssistant, Kind: EntryAnswer, Text: text} }

func (l Log) Append(e Entry) Log {
	n := len(l.entries)
	return Log{entries: append(l.entries[:n:n], e)}
}

func (l Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the entries in append order.
func (l Log) Entries() []Entry {
	return slices.Clone(l.entries)
}

func (l Log) Last() (Entry, bool) {
	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Messages converts the log into prior conversation turns.
func (l Log) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(l.entries))
	for _, e := range l.entries {
		role := e.Role
		if role == "" {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: e.Text})
	}
	return msgs
}

func (l Log) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

func (l *Log) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}
