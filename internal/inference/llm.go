package inference

import (
	"context"
	"fmt"

	"github.com/flitsinc/go-llms/anthropic"
	"github.com/flitsinc/go-llms/content"
	"github.com/flitsinc/go-llms/google"
	"github.com/flitsinc/go-llms/llms"
	"github.com/flitsinc/go-llms/openai"
)

// The completion system prompt is fixed; per-agent instructions travel inside
// the rendered prompt text instead.
const completionSystemPrompt = "You are a helpful assistant."

// LLMConfig selects the chat completion provider and model.
type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
}

// Completer runs chat completions through go-llms. Each call builds a fresh
// session, so concurrent turns never share provider state.
type Completer struct {
	config LLMConfig
}

func NewCompleter(cfg LLMConfig) (*Completer, error) {
	// Validate eagerly so a misconfigured provider fails at startup, not on
	// the first turn.
	if _, err := newLLM(cfg); err != nil {
		return nil, err
	}
	return &Completer{config: cfg}, nil
}

func newLLM(cfg LLMConfig) (*llms.LLM, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is required")
	}

	var provider llms.Provider
	switch cfg.Provider {
	case "openai-responses":
		provider = openai.NewResponsesAPI(cfg.APIKey, cfg.Model)
	case "openai-chat":
		provider = openai.NewChatCompletionsAPI(cfg.APIKey, cfg.Model)
	case "anthropic":
		model := anthropic.New(cfg.APIKey, cfg.Model)
		model.WithMaxTokens(1024)
		provider = model
	case "google":
		provider = google.New(cfg.Model).WithGeminiAPI(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return llms.New(provider), nil
}

func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	llm, err := newLLM(c.config)
	if err != nil {
		return "", &CompletionError{Err: err}
	}
	llm.SystemPrompt = func() content.Content {
		return content.FromText(completionSystemPrompt)
	}

	var output string
	updates := llm.ChatUsingMessages(ctx, []llms.Message{
		{Role: "user", Content: content.FromText(prompt)},
	})
	for update := range updates {
		if textUpdate, ok := update.(llms.TextUpdate); ok {
			output += textUpdate.Text
		}
	}
	if err := llm.Err(); err != nil {
		return "", &CompletionError{Err: err}
	}
	return output, nil
}
