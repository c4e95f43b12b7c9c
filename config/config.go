// Package config loads the daemon's YAML configuration and fills in defaults
// for anything left unset. Secrets (API keys, OAuth tokens) never live in the
// YAML file; they come from the environment, optionally seeded from a .env
// file next to the config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Audio         Audio         `yaml:"audio"`
	Transcription Transcription `yaml:"transcription"`
	Summary       Summary       `yaml:"summary"`
	Sync          Sync          `yaml:"sync"`
	Storage       Storage       `yaml:"storage"`
}

type Audio struct {
	// Device selects a capture device by name. Empty means system default.
	Device string `yaml:"device"`
	// MaxSegmentSeconds is the hard cap on a single segment.
	MaxSegmentSeconds int `yaml:"max_segment_seconds"`
	// SilenceCutoffSeconds finalizes a segment after this much silence.
	SilenceCutoffSeconds int `yaml:"silence_cutoff_seconds"`
	// MinSegmentSeconds discards finalized segments shorter than this.
	MinSegmentSeconds int `yaml:"min_segment_seconds"`
	// SilenceThreshold is the RMS level below which a window counts as silent.
	SilenceThreshold float64 `yaml:"silence_threshold"`
	// MinVoicedRatio discards segments whose voiced fraction falls below it.
	MinVoicedRatio float64 `yaml:"min_voiced_ratio"`
}

type Transcription struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	// BaseURL overrides the provider endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
	Workers int    `yaml:"workers"`
	// QueueSize bounds how many finalized segments can wait for a worker.
	QueueSize      int `yaml:"queue_size"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxAttempts    int `yaml:"max_attempts"`
}

type Summary struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	// Hourly enables a summary at the top of every hour.
	Hourly bool `yaml:"hourly"`
	// DailyTime is the local wall-clock time of the daily summary, "HH:MM".
	DailyTime      string `yaml:"daily_time"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxAttempts    int    `yaml:"max_attempts"`
	// SettleSeconds bounds how long a due summary waits for in-flight
	// transcriptions before proceeding with what it has.
	SettleSeconds int `yaml:"settle_seconds"`
}

type Sync struct {
	Enabled bool `yaml:"enabled"`
	// Backend names the document store. Only "gdrive" is supported.
	Backend         string `yaml:"backend"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderName      string `yaml:"folder_name"`
	IntervalMinutes int    `yaml:"interval_minutes"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

type Storage struct {
	// DataDir holds audio segments, transcripts, summaries and the database.
	DataDir string `yaml:"data_dir"`
	// MaxAudioAgeDays controls retention of raw audio files. Transcripts and
	// summaries are never expired.
	MaxAudioAgeDays int `yaml:"max_audio_age_days"`
	// CleanupTime is the local wall-clock time of the retention sweep, "HH:MM".
	CleanupTime string `yaml:"cleanup_time"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Audio: Audio{
			MaxSegmentSeconds:    300,
			SilenceCutoffSeconds: 5,
			MinSegmentSeconds:    3,
			SilenceThreshold:     0.01,
			MinVoicedRatio:       0.1,
		},
		Transcription: Transcription{
			Provider:       "whisper",
			Model:          "whisper-large-v3",
			Language:       "en",
			Workers:        2,
			QueueSize:      2,
			TimeoutSeconds: 60,
			MaxAttempts:    3,
		},
		Summary: Summary{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Hourly:         true,
			DailyTime:      "23:00",
			TimeoutSeconds: 120,
			MaxAttempts:    3,
			SettleSeconds:  30,
		},
		Sync: Sync{
			Backend:         "gdrive",
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
			FolderName:      "Transcription Summaries",
			IntervalMinutes: 15,
			MaxAttempts:     5,
		},
		Storage: Storage{
			DataDir:         defaultDataDir(),
			MaxAudioAgeDays: 7,
			CleanupTime:     "02:00",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scribed-data"
	}
	return filepath.Join(home, ".scribed")
}

// Load reads path, layers it over Default, and validates the result. A missing
// file is not an error; defaults apply. A .env file in the same directory is
// loaded into the environment if present.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Audio.MaxSegmentSeconds <= 0 {
		return fmt.Errorf("audio.max_segment_seconds must be positive")
	}
	if c.Audio.MinSegmentSeconds > c.Audio.MaxSegmentSeconds {
		return fmt.Errorf("audio.min_segment_seconds exceeds max_segment_seconds")
	}
	if c.Audio.MinVoicedRatio < 0 || c.Audio.MinVoicedRatio > 1 {
		return fmt.Errorf("audio.min_voiced_ratio must be in [0, 1]")
	}
	if c.Transcription.Workers <= 0 {
		return fmt.Errorf("transcription.workers must be positive")
	}
	if c.Transcription.QueueSize <= 0 {
		return fmt.Errorf("transcription.queue_size must be positive")
	}
	if _, err := ParseClock(c.Summary.DailyTime); err != nil {
		return fmt.Errorf("summary.daily_time: %w", err)
	}
	if _, err := ParseClock(c.Storage.CleanupTime); err != nil {
		return fmt.Errorf("storage.cleanup_time: %w", err)
	}
	if c.Sync.Enabled && c.Sync.Backend != "gdrive" {
		return fmt.Errorf("sync.backend %q is not supported", c.Sync.Backend)
	}
	return nil
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour, Minute int
}

// ParseClock parses "HH:MM" in 24-hour form.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("want HH:MM, got %q", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Next returns the first instant at or after now whose local time of day
// matches c.
func (c Clock) Next(now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), c.Hour, c.Minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
