package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: SCRIBED_LOG_PATH environment variable
	envPath := os.Getenv("SCRIBED_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// SegmentFinalized records a finalized audio segment and the reason it closed
// ("duration", "silence", "overrun", "flush").
func SegmentFinalized(seq uint64, durationS, voicedRatio float64, reason string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Uint64("seq", seq).
		Float64("duration_s", durationS).
		Float64("voiced_ratio", voicedRatio).
		Str("reason", reason).
		Msg("segment_finalized")
}

// Backpressure records a queue-full event at the capture boundary.
func Backpressure(seq uint64, queueDepth int, forced bool) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Uint64("seq", seq).
		Int("queue_depth", queueDepth).
		Bool("force_emitted", forced).
		Msg("backpressure")
}

// TranscriptionFailed records a segment moved to the dead-letter area after
// exhausting retries.
func TranscriptionFailed(seq uint64, attempts int, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Uint64("seq", seq).
		Int("attempts", attempts).
		Err(err).
		Msg("transcription_failed")
}

// SummaryEvent records a scheduler/builder outcome ("generated", "sentinel",
// "failed", "catch_up").
func SummaryEvent(kind, outcome string, periodStart, periodEnd time.Time) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("kind", kind).
		Str("outcome", outcome).
		Time("period_start", periodStart).
		Time("period_end", periodEnd).
		Msg("summary")
}

// SyncEvent records a sync attempt outcome per artifact.
func SyncEvent(artifactID, status string, attempts int) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if status == "failed" || status == "conflict" {
		ev = diagLog.Warn()
	}
	ev.Str("artifact", artifactID).
		Str("status", status).
		Int("attempts", attempts).
		Msg("sync")
}

// TranscriptionText appends transcribed text to the transcribe log, one line
// per segment.
func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

func SessionStart(transcriberName, summarizerName string, workers int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("transcriber", transcriberName).
		Str("summarizer", summarizerName).
		Int("workers", workers).
		Msg("session_start")
}

func SessionEnd(segments, entries int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("segments", segments).
		Int("entries", entries).
		Msg("session_end")
}
