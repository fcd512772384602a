package turn

import (
	"bytes"
	"context"
	"fmt"

	"github.com/calliope-chat/calliope/internal/inference"
)

// Result is the outcome of a completed pipeline run. Audio turns carry the
// synthesized reply audio and the transcription of the user's recording; text
// turns carry neither.
type Result struct {
	IsAudio       bool
	Text          string
	Audio         []byte
	Transcription string
}

// InvariantViolationError reports a pipeline result that breaks the modality
// contract, such as an audio turn that produced no audio. It indicates a bug
// or a misbehaving provider, not a user error.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("turn invariant violated: %s", e.Reason)
}

// Pipeline runs one of the two fixed stage sequences against the gateway.
// Stages run strictly in order and the first failure aborts the run; there is
// no retry or partial result.
type Pipeline struct {
	Gateway inference.Gateway
}

// Run routes by input modality. The reply mirrors the input: text in, text
// out; audio in, audio out.
func (p *Pipeline) Run(ctx context.Context, tc Context) (Result, error) {
	if tc.IsAudio {
		return p.runAudio(ctx, tc)
	}
	return p.runText(ctx, tc)
}

func (p *Pipeline) runText(ctx context.Context, tc Context) (Result, error) {
	prompt := renderPrompt(tc.AgentName, tc.SystemPrompt, tc.History, tc.UserText)
	reply, err := p.Gateway.Complete(ctx, prompt)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: reply}, nil
}

func (p *Pipeline) runAudio(ctx context.Context, tc Context) (Result, error) {
	userText, err := p.Gateway.Transcribe(ctx, bytes.NewReader(tc.InputAudio), tc.InputFilename)
	if err != nil {
		return Result{}, err
	}

	prompt := renderPrompt(tc.AgentName, tc.SystemPrompt, tc.History, userText)
	reply, err := p.Gateway.Complete(ctx, prompt)
	if err != nil {
		return Result{}, err
	}

	audio, err := p.Gateway.Synthesize(ctx, reply)
	if err != nil {
		return Result{}, err
	}
	if len(audio) == 0 {
		return Result{}, &InvariantViolationError{Reason: "audio turn produced no audio bytes"}
	}

	return Result{IsAudio: true, Text: reply, Audio: audio, Transcription: userText}, nil
}
