// Package session holds per-conversation transcripts and serializes the
// agent turns for each conversation.
package session

import (
	"encoding/json"
	"time"

	"github.com/nugget/charmbot/internal/prompts"
)

// Role tags a transcript entry.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Entry is one utterance in a conversation.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the append-only record of a conversation.
type Transcript []Entry

// History converts the transcript into prompt history.
func (t Transcript) History() []prompts.HistoryEntry {
	out := make([]prompts.HistoryEntry, len(t))
	for i, e := range t {
		sp := prompts.SpeakerAgent
		if e.Role == RoleCustomer {
			sp = prompts.SpeakerCustomer
		}
		out[i] = prompts.HistoryEntry{Speaker: sp, Text: e.Text}
	}
	return out
}

// MarshalJSON renders a nil transcript as an empty array.
func (t Transcript) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Entry(t))
}
