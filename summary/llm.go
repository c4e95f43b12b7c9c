package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultChatURL = "https://api.openai.com/v1/chat/completions"

const (
	hourlyPrompt = "Summarize the following hour of transcribed speech in a few short paragraphs. " +
		"Focus on topics discussed, decisions made and action items. Keep timestamps out of the prose."
	dailyPrompt = "Write a daily journal entry from the following day of transcribed speech. " +
		"Group it by theme, note key conversations and decisions, and end with open action items."
	manualPrompt = "Summarize the following transcribed speech concisely, keeping topics and decisions."
)

// LLM is a chat-completions client for any OpenAI-compatible endpoint.
type LLM struct {
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

func NewLLM(apiKey string, cfg Config) *LLM {
	url := cfg.BaseURL
	if url == "" {
		url = defaultChatURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLM{
		apiKey: apiKey,
		apiURL: url,
		model:  model,
		client: &http.Client{Timeout: 3 * time.Minute},
	}
}

func (l *LLM) Name() string { return "llm" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func promptFor(kind Kind) string {
	switch kind {
	case KindHourly:
		return hourlyPrompt
	case KindDaily:
		return dailyPrompt
	}
	return manualPrompt
}

func (l *LLM) Summarize(ctx context.Context, transcript string, kind Kind) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: promptFor(kind)},
			{Role: "user", Content: transcript},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("summary: reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: %s", ErrRateLimited, truncate(data))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: HTTP %d", ErrAuthError, resp.StatusCode)
	default:
		return "", fmt.Errorf("summary: HTTP %d: %s", resp.StatusCode, truncate(data))
	}

	var cResp chatResponse
	if err := json.Unmarshal(data, &cResp); err != nil {
		return "", fmt.Errorf("summary: response parse error: %w", err)
	}
	if len(cResp.Choices) == 0 {
		return "", fmt.Errorf("summary: empty response")
	}
	return cResp.Choices[0].Message.Content, nil
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
