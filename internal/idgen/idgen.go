package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New returns a UUIDv7 identifier string, used for users, agents, and chats.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// MessageID returns a ULID string. Message identifiers sort by creation time,
// which keeps artifact keys and tie-broken message ordering stable.
func MessageID() string {
	return ulid.Make().String()
}
