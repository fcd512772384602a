package inference

import "fmt"

// TranscriptionError marks a failed speech-to-text call.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return fmt.Sprintf("transcribe audio: %v", e.Err) }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// CompletionError marks a failed chat completion.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string { return fmt.Sprintf("complete chat: %v", e.Err) }
func (e *CompletionError) Unwrap() error { return e.Err }

// SynthesisError marks a failed text-to-speech call.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesize speech: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }
