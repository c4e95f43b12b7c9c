// Package transcriber converts finalized audio segments to text through an
// external speech-to-text API.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrEngineUnavailable marks transient provider failures (5xx, rate limits,
// connection errors). Callers retry these.
var ErrEngineUnavailable = errors.New("transcriber: engine unavailable")

// ErrEngineTimeout marks a request that exceeded its deadline. Retried like
// an unavailable engine.
var ErrEngineTimeout = errors.New("transcriber: engine timeout")

type Result struct {
	Text       string
	Confidence float64
}

// Engine is a speech-to-text provider. Implementations must be safe for
// concurrent use; the worker pool calls Transcribe from several goroutines.
type Engine interface {
	Name() string
	// Transcribe sends FLAC audio and returns the recognized text. langHint
	// may be empty for auto-detection.
	Transcribe(ctx context.Context, audio []byte, langHint string) (Result, error)
}

// Config selects and tunes a provider.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
}

// New builds the configured engine. API keys come from the environment:
// GROQ_API_KEY or OPENAI_API_KEY depending on provider.
func New(cfg Config) (Engine, error) {
	switch cfg.Provider {
	case "", "whisper", "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("transcriber: OPENAI_API_KEY not set")
		}
		return NewWhisper(key, cfg), nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("transcriber: GROQ_API_KEY not set")
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "https://api.groq.com/openai/v1/audio/transcriptions"
		}
		return NewWhisper(key, cfg), nil
	default:
		return nil, fmt.Errorf("transcriber: unknown provider %q", cfg.Provider)
	}
}
