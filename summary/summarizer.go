package summary

import (
	"context"
	"fmt"
	"os"
)

// Summarizer turns a block of transcript text into a summary. Safe for
// concurrent use.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, transcript string, kind Kind) (string, error)
}

type Config struct {
	Provider string
	Model    string
	BaseURL  string
}

// NewSummarizer builds the configured provider. The API key comes from
// OPENAI_API_KEY (or GROQ_API_KEY for the groq provider).
func NewSummarizer(cfg Config) (Summarizer, error) {
	switch cfg.Provider {
	case "", "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("summary: OPENAI_API_KEY not set")
		}
		return NewLLM(key, cfg), nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("summary: GROQ_API_KEY not set")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.groq.com/openai/v1/chat/completions"
		}
		return NewLLM(key, cfg), nil
	default:
		return nil, fmt.Errorf("summary: unknown provider %q", cfg.Provider)
	}
}
