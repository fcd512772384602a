// Package history computes bounded windows over a chat's message log: the
// context window fed to the model and the page window shown to users. Both
// operate on the log as returned by state.ListMessages, i.e. sorted ascending
// by sequence timestamp with insertion order breaking ties.
package history

import (
	"time"

	"github.com/calliope-chat/calliope/internal/state"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultDepth is the number of recent messages supplied to the model.
const DefaultDepth = 10

// Entry is one (role, content) pair of model-facing history.
type Entry struct {
	Role    string
	Content string
}

// PageItem is the display form of a message. Audio messages report an empty
// text field regardless of any transcription stored internally.
type PageItem struct {
	ID      string    `json:"id"`
	SentAt  time.Time `json:"sent_at"`
	Sender  string    `json:"sender"`
	IsAudio bool      `json:"is_audio"`
	Text    string    `json:"text"`
}

// ContextWindow returns the last n messages as role/content pairs, oldest
// first. Audio messages contribute their stored text as-is (the transcription
// for user messages, the pre-synthesis text for agent ones); nothing is
// re-transcribed here.
func ContextWindow(msgs []state.Message, n int) []Entry {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		if m.IsAgent {
			role = RoleAssistant
		}
		out = append(out, Entry{Role: role, Content: m.Text})
	}
	return out
}

// PageWindow returns up to n messages ending at endOffset, chronologically
// ascending. endOffset counts backward from the most recent message when
// negative (-1 = most recent) and is an absolute index otherwise. An offset
// that resolves out of bounds yields an empty page, not an error.
func PageWindow(msgs []state.Message, endOffset, n int) []PageItem {
	if n <= 0 || len(msgs) == 0 {
		return nil
	}

	end := endOffset
	if endOffset < 0 {
		end = len(msgs) + endOffset
	}
	if end < 0 || end >= len(msgs) {
		return nil
	}

	start := end - n + 1
	if start < 0 {
		start = 0
	}

	out := make([]PageItem, 0, end-start+1)
	for _, m := range msgs[start : end+1] {
		out = append(out, pageItem(m))
	}
	return out
}

func pageItem(m state.Message) PageItem {
	sender := "user"
	if m.IsAgent {
		sender = "agent"
	}
	text := m.Text
	if m.IsAudio {
		text = ""
	}
	return PageItem{
		ID:      m.ID,
		SentAt:  m.SentAt,
		Sender:  sender,
		IsAudio: m.IsAudio,
		Text:    text,
	}
}
