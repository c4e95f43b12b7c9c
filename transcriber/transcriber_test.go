package transcriber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWhisperTranscribe(t *testing.T) {
	var gotModel, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		rw.Write([]byte(`{"text":"hello world","segments":[{"text":"hello world","no_speech_prob":0.1,"avg_logprob":-0.2}]}`))
	}))
	defer srv.Close()

	w := NewWhisper("test-key", Config{BaseURL: srv.URL, Model: "whisper-large-v3"})
	res, err := w.Transcribe(context.Background(), []byte("fLaCxxxx"), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Confidence < 0.89 || res.Confidence > 0.91 {
		t.Errorf("Confidence = %v, want 0.9", res.Confidence)
	}
	if gotModel != "whisper-large-v3" {
		t.Errorf("model = %q", gotModel)
	}
	if gotLang != "en" {
		t.Errorf("language = %q", gotLang)
	}
}

func TestWhisperServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWhisper("k", Config{BaseURL: srv.URL})
	_, err := w.Transcribe(context.Background(), nil, "")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
}

func TestWhisperRateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	w := NewWhisper("k", Config{BaseURL: srv.URL})
	_, err := w.Transcribe(context.Background(), nil, "")
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("err = %v, want ErrEngineUnavailable", err)
	}
}

func TestWhisperClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWhisper("k", Config{BaseURL: srv.URL})
	_, err := w.Transcribe(context.Background(), nil, "")
	if err == nil {
		t.Fatal("err = nil, want permanent error")
	}
	if errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("err = %v classified transient, want permanent", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want HTTP 400 mentioned", err)
	}
}

func TestFakeScriptedErrors(t *testing.T) {
	boom := errors.New("boom")
	f := NewFake("scripted text").FailWith(boom, boom)

	for i := 0; i < 2; i++ {
		if _, err := f.Transcribe(context.Background(), nil, ""); !errors.Is(err, boom) {
			t.Fatalf("call %d: err = %v, want boom", i+1, err)
		}
	}
	res, err := f.Transcribe(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("call 3: %v", err)
	}
	if res.Text != "scripted text" {
		t.Errorf("Text = %q", res.Text)
	}
	if f.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", f.Calls())
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(Config{Provider: "whisper"}); err == nil {
		t.Fatal("New without key = nil error")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
	eng, err := New(Config{Provider: "whisper"})
	if err != nil {
		t.Fatal(err)
	}
	if eng.Name() != "whisper" {
		t.Errorf("Name = %q", eng.Name())
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(Config{Provider: "nope"}); err == nil {
		t.Fatal("New(nope) = nil error")
	}
}
