package inference

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// SpeechConfig selects the transcription and synthesis models.
type SpeechConfig struct {
	APIKey   string
	STTModel string
	TTSModel string
	TTSVoice string
}

// Speech handles both audio directions through the OpenAI audio APIs.
type Speech struct {
	client *openai.Client
	config SpeechConfig
}

func NewSpeech(cfg SpeechConfig) *Speech {
	return &Speech{client: openai.NewClient(cfg.APIKey), config: cfg}
}

func (s *Speech) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.config.STTModel,
		Reader:   audio,
		FilePath: filename,
	})
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	return resp.Text, nil
}

func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.config.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(s.config.TTSVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, &SynthesisError{Err: err}
	}
	return data, nil
}

// Service bundles the completion and speech clients into one Gateway.
type Service struct {
	*Completer
	*Speech
}

func NewService(llmCfg LLMConfig, speechCfg SpeechConfig) (*Service, error) {
	completer, err := NewCompleter(llmCfg)
	if err != nil {
		return nil, err
	}
	return &Service{Completer: completer, Speech: NewSpeech(speechCfg)}, nil
}
