package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scribed/audio"
	"scribed/config"
	"scribed/log"
	"scribed/sched"
	"scribed/summary"
	"scribed/syncer"
	"scribed/transcriber"
)

var version = "dev"

func main() {
	configFlag := flag.String("config", defaultConfigPath(), "Path to YAML config file")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	deviceFlag := flag.String("device", "", "Use named microphone device (overrides config)")
	listFlag := flag.Bool("list-devices", false, "List capture devices and exit")
	summarizeFlag := flag.String("summarize", "", "Build a manual summary for a date (YYYY-MM-DD) and exit")
	fakeAudioFlag := flag.Bool("fake-audio", false, "Run without a capture device (testing)")
	fakeTranscriberFlag := flag.Bool("fake-transcriber", false, "Echo fixed text instead of calling the STT API (testing)")
	fakeSummarizerFlag := flag.Bool("fake-summarizer", false, "Echo the transcript instead of calling the LLM (testing)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("scribed %s\n", version)
		return
	}

	logDir, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log dir: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logDir)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "log init: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal("config: %v", err)
	}
	if *deviceFlag != "" {
		cfg.Audio.Device = *deviceFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioCtx, err := buildAudioContext(*fakeAudioFlag)
	if err != nil {
		fatal("audio: %v", err)
	}
	defer audioCtx.Close()

	if *listFlag {
		listDevices(audioCtx)
		return
	}

	engine, err := buildEngine(cfg, *fakeTranscriberFlag)
	if err != nil {
		fatal("%v", err)
	}
	summarizer, err := buildSummarizer(cfg, *fakeSummarizerFlag)
	if err != nil {
		fatal("%v", err)
	}

	var backend syncer.Backend
	if cfg.Sync.Enabled {
		backend, err = syncer.NewDrive(ctx, syncer.DriveConfig{
			CredentialsFile: cfg.Sync.CredentialsFile,
			TokenFile:       cfg.Sync.TokenFile,
			FolderName:      cfg.Sync.FolderName,
		})
		if err != nil {
			fatal("sync: %v", err)
		}
	}

	daemon, err := NewDaemon(cfg, audioCtx, engine, summarizer, backend, sched.RealClock())
	if err != nil {
		fatal("%v", err)
	}
	defer daemon.Close()

	if *summarizeFlag != "" {
		if err := summarizeDate(ctx, daemon, *summarizeFlag); err != nil {
			fatal("summarize: %v", err)
		}
		return
	}

	go func() {
		<-ctx.Done()
		daemon.Plane().Shutdown()
	}()

	if err := daemon.Run(ctx); err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...any) {
	log.Errorf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	log.Close()
	os.Exit(1)
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scribed.yaml"
	}
	return home + "/.scribed/scribed.yaml"
}

func buildAudioContext(fake bool) (audio.Context, error) {
	if fake {
		return audio.NewFakeContext(), nil
	}
	return audio.NewContext()
}

func buildEngine(cfg config.Config, fake bool) (transcriber.Engine, error) {
	if fake {
		return transcriber.NewFake("fake transcription"), nil
	}
	return transcriber.New(transcriber.Config{
		Provider: cfg.Transcription.Provider,
		Model:    cfg.Transcription.Model,
		BaseURL:  cfg.Transcription.BaseURL,
	})
}

func buildSummarizer(cfg config.Config, fake bool) (summary.Summarizer, error) {
	if fake {
		return summary.NewFakeSummarizer("fake summary"), nil
	}
	return summary.NewSummarizer(summary.Config{
		Provider: cfg.Summary.Provider,
		Model:    cfg.Summary.Model,
		BaseURL:  cfg.Summary.BaseURL,
	})
}

func listDevices(ctx audio.Context) {
	devices, err := ctx.Devices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list devices: %v\n", err)
		return
	}
	for _, d := range devices {
		fmt.Println(d.Name)
	}
}

// summarizeDate fires a manual summary over one local calendar day using
// whatever entries survived in the store.
func summarizeDate(ctx context.Context, d *Daemon, date string) error {
	start, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return fmt.Errorf("want YYYY-MM-DD, got %q", date)
	}
	return d.Scheduler().Trigger(ctx, start, start.AddDate(0, 0, 1))
}
