// Package events fans turn outcomes out to live websocket subscribers. The
// bus is purely in-memory: events not delivered to a connected subscriber are
// gone, the message log in the database is the durable record.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TypeTurnCompleted = "turn.completed"
	TypeTurnFailed    = "turn.failed"
)

// Event describes the outcome of one conversation turn, scoped to the user
// who owns the chat.
type Event struct {
	Type      string    `json:"type"`
	ChatID    string    `json:"chat_id"`
	MessageID string    `json:"message_id,omitempty"`
	IsAudio   bool      `json:"is_audio,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type subscriber struct {
	userID string
	ch     chan Event
}

type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

func NewBus() *Bus {
	return &Bus{subs: map[string]*subscriber{}}
}

// Subscribe registers a channel for one user's events. The channel closes
// when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, userID string) <-chan Event {
	ch := make(chan Event, 64)
	id := ulid.Make().String()

	b.mu.Lock()
	b.subs[id] = &subscriber{userID: userID, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers an event to every subscriber of the given user.
func (b *Bus) Publish(userID string, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow.
		}
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
