package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Audio.MaxSegmentSeconds != 300 {
		t.Errorf("MaxSegmentSeconds = %d, want 300", cfg.Audio.MaxSegmentSeconds)
	}
	if cfg.Transcription.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Transcription.Workers)
	}
	if cfg.Summary.DailyTime != "23:00" {
		t.Errorf("DailyTime = %q, want 23:00", cfg.Summary.DailyTime)
	}
	if cfg.Storage.MaxAudioAgeDays != 7 {
		t.Errorf("MaxAudioAgeDays = %d, want 7", cfg.Storage.MaxAudioAgeDays)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
audio:
  max_segment_seconds: 120
  silence_cutoff_seconds: 3
transcription:
  workers: 4
summary:
  daily_time: "21:30"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Audio.MaxSegmentSeconds != 120 {
		t.Errorf("MaxSegmentSeconds = %d, want 120", cfg.Audio.MaxSegmentSeconds)
	}
	if cfg.Audio.MinSegmentSeconds != 3 {
		t.Errorf("MinSegmentSeconds = %d, want default 3", cfg.Audio.MinSegmentSeconds)
	}
	if cfg.Transcription.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Transcription.Workers)
	}
	if cfg.Summary.DailyTime != "21:30" {
		t.Errorf("DailyTime = %q, want 21:30", cfg.Summary.DailyTime)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name, body string
	}{
		{"bad daily time", "summary:\n  daily_time: \"25:00\"\n"},
		{"min above max", "audio:\n  min_segment_seconds: 500\n"},
		{"zero workers", "transcription:\n  workers: -1\n"},
		{"unknown backend", "sync:\n  enabled: true\n  backend: dropbox\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("Load() = nil, want error")
			}
		})
	}
}

func TestClockNext(t *testing.T) {
	c, err := ParseClock("23:00")
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC)
	got := c.Next(now)
	want := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next before boundary = %v, want %v", got, want)
	}

	now = time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	got = c.Next(now)
	want = time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next at boundary = %v, want %v", got, want)
	}
}
