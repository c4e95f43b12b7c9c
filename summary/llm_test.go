package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLLMSummarize(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(rw).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "a tidy summary"}}},
		})
	}))
	defer srv.Close()

	l := NewLLM("test-key", Config{BaseURL: srv.URL, Model: "gpt-4o-mini"})
	got, err := l.Summarize(context.Background(), "[09:00:00] hello", KindHourly)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "a tidy summary" {
		t.Errorf("Summarize = %q", got)
	}
	if gotReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "[09:00:00] hello" {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestLLMRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	l := NewLLM("k", Config{BaseURL: srv.URL})
	if _, err := l.Summarize(context.Background(), "x", KindDaily); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestLLMAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	l := NewLLM("k", Config{BaseURL: srv.URL})
	if _, err := l.Summarize(context.Background(), "x", KindDaily); !errors.Is(err, ErrAuthError) {
		t.Fatalf("err = %v, want ErrAuthError", err)
	}
}

func TestPromptVariesByKind(t *testing.T) {
	if promptFor(KindHourly) == promptFor(KindDaily) {
		t.Error("hourly and daily prompts identical")
	}
	if promptFor(KindManual) == "" {
		t.Error("manual prompt empty")
	}
}
