// Package artifact stores the binary audio attached to messages. Artifacts
// are addressed by a deterministic key derived from the message, so no
// pathname is ever stored in the database.
package artifact

import (
	"fmt"
)

// Roles an artifact can belong to. User recordings arrive as WAV uploads;
// agent replies are synthesized as MP3.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Key derives the storage key for a message's audio. The key embeds the role,
// the owning user's username and the message id, with the extension fixed by
// who produced the audio.
func Key(role, username, messageID string) string {
	ext := ".wav"
	if role == RoleAgent {
		ext = ".mp3"
	}
	return fmt.Sprintf("%s_%s_%s%s", role, username, messageID, ext)
}

// WriteError reports a failed artifact write. Callers treat it as an
// infrastructure fault distinct from model-call failures.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store is the blob interface the turn pipeline writes to and the download
// endpoint reads from.
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}
