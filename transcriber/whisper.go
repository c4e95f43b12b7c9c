package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const defaultWhisperURL = "https://api.openai.com/v1/audio/transcriptions"

// Whisper talks to any OpenAI-compatible transcription endpoint.
type Whisper struct {
	apiKey string
	apiURL string
	model  string
	client *http.Client
}

func NewWhisper(apiKey string, cfg Config) *Whisper {
	url := cfg.BaseURL
	if url == "" {
		url = defaultWhisperURL
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-large-v3"
	}
	return &Whisper{
		apiKey: apiKey,
		apiURL: url,
		model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (w *Whisper) Name() string { return "whisper" }

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (w *Whisper) Transcribe(ctx context.Context, audio []byte, langHint string) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.flac")
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return Result{}, err
	}
	mw.WriteField("model", w.model)
	mw.WriteField("response_format", "verbose_json")
	if langHint != "" {
		mw.WriteField("language", langHint)
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL, &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Result{}, fmt.Errorf("%w: %v", ErrEngineTimeout, err)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrEngineUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Result{}, fmt.Errorf("%w: HTTP %d: %s", ErrEngineUnavailable, resp.StatusCode, truncate(data))
	default:
		// 4xx other than 429 will not heal on retry.
		return Result{}, fmt.Errorf("transcriber: HTTP %d: %s", resp.StatusCode, truncate(data))
	}

	var wResp whisperResponse
	if err := json.Unmarshal(data, &wResp); err != nil {
		return Result{}, fmt.Errorf("transcriber: response parse error: %w", err)
	}

	confidence := 1.0
	if len(wResp.Segments) > 0 {
		var worst float64
		for _, seg := range wResp.Segments {
			if seg.NoSpeechProb > worst {
				worst = seg.NoSpeechProb
			}
		}
		confidence = 1 - worst
	}

	return Result{Text: wResp.Text, Confidence: confidence}, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
