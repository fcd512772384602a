// Package inference wraps the external model calls a turn depends on:
// speech-to-text, chat completion and text-to-speech. Failures come back as
// typed errors naming the failed stage, so callers can report which half of a
// turn went wrong without parsing provider messages.
package inference

import (
	"context"
	"io"
)

// Gateway is everything the turn pipeline needs from the model providers.
type Gateway interface {
	// Transcribe converts user speech to text. filename hints the container
	// format to the provider.
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)

	// Complete runs a single chat completion over the fully rendered prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// Synthesize renders text as MP3 audio.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
