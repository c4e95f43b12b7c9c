package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"scribed/audio"
	"scribed/config"
	"scribed/control"
	"scribed/log"
	"scribed/retry"
	"scribed/sched"
	"scribed/segment"
	"scribed/store"
	"scribed/summary"
	"scribed/syncer"
	"scribed/transcriber"
	"scribed/transcript"
)

const (
	// pcmChanDepth rides out a drainTimeout-long enqueue stall without
	// dropping audio, even at 10 ms device periods.
	pcmChanDepth   = 4096
	drainTimeout   = 30 * time.Second
	statusInterval = 5 * time.Minute
	reacquireDelay = 5 * time.Second
)

type pcmChunk struct {
	data []byte
	at   time.Time
}

// Daemon owns the full pipeline: capture -> segmentation -> queue -> workers
// -> transcript/store, plus the summary scheduler and the sync dispatcher.
type Daemon struct {
	cfg   config.Config
	plane *control.Plane
	clock sched.Clock

	audioCtx audio.Context
	capture  audio.CaptureDevice
	writer   *segment.Writer
	queue    *segment.Queue

	engine     transcriber.Engine
	summarizer summary.Summarizer

	logbook  *transcript.Log
	inflight *transcript.Inflight
	db       *store.Store

	builder    *summary.Builder
	scheduler  *sched.Scheduler
	dispatcher *syncer.Dispatcher

	pcmCh       chan pcmChunk
	backlog     []*segment.Segment
	backlogDone chan struct{}

	segments    atomic.Uint64
	entries     atomic.Uint64
	pcmDropped  atomic.Uint64
	pcmDropping atomic.Bool
}

func (d *Daemon) segmentsDir() string { return filepath.Join(d.cfg.Storage.DataDir, "segments") }

func (d *Daemon) summariesDir() string { return filepath.Join(d.cfg.Storage.DataDir, "summaries") }

func (d *Daemon) deadLetterDir() string { return filepath.Join(d.cfg.Storage.DataDir, "deadletter") }

func transcriptsDir(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "transcripts")
}

// NewDaemon wires the pipeline. The audio context, engine and summarizer are
// injected so tests and the -fake-* flags can swap real providers out.
func NewDaemon(cfg config.Config, audioCtx audio.Context, engine transcriber.Engine,
	summarizer summary.Summarizer, backend syncer.Backend, clock sched.Clock) (*Daemon, error) {

	for _, dir := range []string{
		cfg.Storage.DataDir,
		filepath.Join(cfg.Storage.DataDir, "segments"),
		filepath.Join(cfg.Storage.DataDir, "summaries"),
		filepath.Join(cfg.Storage.DataDir, "deadletter"),
		transcriptsDir(cfg),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := store.Open(filepath.Join(cfg.Storage.DataDir, "scribed.db"))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		plane:       control.New(),
		clock:       clock,
		audioCtx:    audioCtx,
		engine:      engine,
		summarizer:  summarizer,
		logbook:     transcript.NewLog(transcriptsDir(cfg)),
		inflight:    transcript.NewInflight(),
		db:          db,
		queue:       segment.NewQueue(cfg.Transcription.QueueSize),
		pcmCh:       make(chan pcmChunk, pcmChanDepth),
		backlogDone: make(chan struct{}),
	}

	nextSeq, err := d.recover()
	if err != nil {
		db.Close()
		return nil, err
	}

	d.writer = segment.NewWriter(segment.WriterConfig{
		Dir:              d.segmentsDir(),
		MaxDuration:      time.Duration(cfg.Audio.MaxSegmentSeconds) * time.Second,
		SilenceCutoff:    time.Duration(cfg.Audio.SilenceCutoffSeconds) * time.Second,
		MinDuration:      time.Duration(cfg.Audio.MinSegmentSeconds) * time.Second,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		MinVoicedRatio:   cfg.Audio.MinVoicedRatio,
		NextSeq:          nextSeq,
	})

	d.builder = summary.NewBuilder(d.logbook, db, summarizer,
		retry.Policy{MaxAttempts: cfg.Summary.MaxAttempts},
		time.Duration(cfg.Summary.TimeoutSeconds)*time.Second)

	daily, err := config.ParseClock(cfg.Summary.DailyTime)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.scheduler = sched.New(sched.SchedulerConfig{
		Hourly: cfg.Summary.Hourly,
		Daily:  daily,
		Settle: time.Duration(cfg.Summary.SettleSeconds) * time.Second,
		LastFire: func(kind summary.Kind) (time.Time, bool) {
			end, ok, err := db.LastPeriodEnd(kind)
			if err != nil {
				log.Errorf("summary history: %v", err)
				return time.Time{}, false
			}
			return end, ok
		},
	}, clock, d.plane, d.inflight, d.buildPeriod)

	if backend != nil {
		d.dispatcher = syncer.NewDispatcher(syncer.DispatcherConfig{
			Interval:    time.Duration(cfg.Sync.IntervalMinutes) * time.Minute,
			MaxAttempts: cfg.Sync.MaxAttempts,
		}, backend, db, d.lookupArtifact, d.plane)
	}

	return d, nil
}

// Plane exposes the pause/resume/shutdown token.
func (d *Daemon) Plane() *control.Plane { return d.plane }

// Scheduler exposes the summary scheduler, mainly for manual triggers.
func (d *Daemon) Scheduler() *sched.Scheduler { return d.scheduler }

func (d *Daemon) Close() error {
	return d.db.Close()
}

// Run drives the pipeline until ctx is done or Shutdown is called on the
// plane. It blocks.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.startCapture(); err != nil {
		return err
	}
	log.SessionStart(d.engine.Name(), d.summarizer.Name(), d.cfg.Transcription.Workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.runPump(gctx) })
	g.Go(func() error { return d.feedBacklog(gctx) })
	for i := 0; i < d.cfg.Transcription.Workers; i++ {
		g.Go(func() error { return d.runWorker(gctx) })
	}
	g.Go(func() error { return d.scheduler.Run(gctx) })
	if d.dispatcher != nil {
		g.Go(func() error { return d.dispatcher.Run(gctx) })
	}
	g.Go(func() error { return d.runRetention(gctx) })
	g.Go(func() error { return d.runStatus(gctx) })

	// Shutdown sequencing: stop the device first; the pump notices Done,
	// drains what is buffered, flushes and closes the queue for the workers.
	g.Go(func() error {
		select {
		case <-d.plane.Done():
		case <-gctx.Done():
			d.plane.Shutdown()
		}
		d.stopCapture()
		return nil
	})

	err := g.Wait()
	log.SessionEnd(int(d.segments.Load()), int(d.entries.Load()))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (d *Daemon) startCapture() error {
	device, err := audio.FindDevice(d.audioCtx, d.cfg.Audio.Device)
	if err != nil {
		return err
	}
	capture, err := d.audioCtx.NewCapture(device, audio.DefaultCaptureConfig())
	if err != nil {
		return err
	}
	capture.SetLossCallback(d.onCaptureLost)
	capture.SetCallback(func(pcm []byte, _ uint32) { d.onPCM(pcm) })
	if err := capture.Start(); err != nil {
		capture.Close()
		return err
	}
	d.capture = capture
	log.Infof("capturing from %s", capture.DeviceName())
	return nil
}

// onPCM runs on the device thread and must never block. Overruns are counted
// and logged on the transition, never dropped silently.
func (d *Daemon) onPCM(pcm []byte) {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	select {
	case d.pcmCh <- pcmChunk{data: data, at: time.Now()}:
		if d.pcmDropping.CompareAndSwap(true, false) {
			log.Warnf("capture overrun ended, %d chunks dropped so far", d.pcmDropped.Load())
		}
	default:
		d.pcmDropped.Add(1)
		if d.pcmDropping.CompareAndSwap(false, true) {
			log.Warn("capture overrun: pcm buffer full, dropping audio")
		}
	}
}

func (d *Daemon) stopCapture() {
	if d.capture != nil {
		d.capture.ClearCallback()
		d.capture.Stop()
		d.capture.Close()
		d.capture = nil
	}
}

// onCaptureLost pauses the pipeline and retries device acquisition until it
// comes back. Already captured segments keep flowing through the workers.
func (d *Daemon) onCaptureLost(err error) {
	log.Errorf("capture lost: %v", err)
	d.plane.Pause()

	go func() {
		for {
			select {
			case <-d.plane.Done():
				return
			case <-time.After(reacquireDelay):
			}
			if aerr := d.startCapture(); aerr != nil {
				log.Warnf("device reacquire failed: %v", aerr)
				continue
			}
			log.Info("capture device reacquired")
			d.plane.Resume()
			return
		}
	}()
}

// runPump feeds the segment writer from the capture channel and hands
// finalized segments to the queue. On shutdown it flushes the tail of the
// buffer so captured speech is not lost.
func (d *Daemon) runPump(ctx context.Context) error {
	for {
		select {
		case chunk := <-d.pcmCh:
			d.feed(ctx, chunk)
		case <-d.plane.Done():
			// Drain whatever the device delivered before it stopped, then
			// flush the tail and close the queue for the workers.
			for {
				select {
				case chunk := <-d.pcmCh:
					d.feed(ctx, chunk)
				default:
					if seg, err := d.writer.Flush(); err != nil {
						log.Errorf("segment flush: %v", err)
					} else if seg != nil {
						d.dispatch(ctx, seg)
					}
					d.closeQueue()
					return nil
				}
			}
		case <-ctx.Done():
			d.closeQueue()
			return ctx.Err()
		}
	}
}

// closeQueue waits for the recovery backlog feeder to stop enqueueing before
// closing; the queue has a single producer side at a time.
func (d *Daemon) closeQueue() {
	<-d.backlogDone
	d.queue.Close()
}

// feedBacklog re-enqueues segments recovered from the pending manifest,
// blocking behind queue capacity as workers drain. Anything not handed off
// before shutdown stays in the manifest.
func (d *Daemon) feedBacklog(ctx context.Context) error {
	defer close(d.backlogDone)

	ectx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-d.plane.Done():
			cancel()
		case <-ectx.Done():
		}
	}()

	for i, seg := range d.backlog {
		if err := d.queue.Enqueue(ectx, seg); err != nil {
			log.Warnf("recovery backlog stopped, %d segments still pending", len(d.backlog)-i)
			return nil
		}
	}
	return nil
}

func (d *Daemon) feed(ctx context.Context, chunk pcmChunk) {
	// Segments finalized before a write error are already on disk; queue
	// them even when the tail of the chunk failed.
	segs, err := d.writer.Feed(chunk.data, chunk.at)
	for _, seg := range segs {
		d.dispatch(ctx, seg)
	}
	if err != nil {
		log.Errorf("segment write: %v", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, seg *segment.Segment) {
	d.segments.Add(1)
	log.SegmentFinalized(seg.Seq, seg.Duration.Seconds(), seg.VoicedRatio, seg.Reason.String())

	// Persist before queueing: a crash between here and transcription must
	// not lose the segment.
	if err := d.db.AddPendingSegment(seg); err != nil {
		log.Errorf("persist pending segment %d: %v", seg.Seq, err)
	}

	if err := d.queue.TryEnqueue(seg); err == nil {
		return
	}
	// Queue full: backpressure. Capture keeps running; this pump blocks,
	// bounded by queue capacity worth of audio memory.
	log.Backpressure(seg.Seq, d.queue.Depth(), false)
	enqueueCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	err := d.queue.Enqueue(enqueueCtx, seg)
	cancel()
	if err != nil {
		// Stays in the pending manifest for recovery.
		log.Backpressure(seg.Seq, d.queue.Depth(), true)
	}
}

// runWorker consumes the queue until it closes and drains.
func (d *Daemon) runWorker(ctx context.Context) error {
	for {
		seg, err := d.queue.Dequeue(ctx)
		if errors.Is(err, segment.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		// Pause gate: in-flight work completes, new work waits here.
		if werr := d.plane.Wait(ctx); werr != nil {
			// Shutting down mid-drain; the segment stays pending.
			if errors.Is(werr, control.ErrShutdown) {
				continue
			}
			return werr
		}

		d.inflight.Add()
		d.transcribeSegment(ctx, seg)
		d.inflight.Done()
	}
}

func (d *Daemon) transcribeSegment(ctx context.Context, seg *segment.Segment) {
	audioData, err := os.ReadFile(seg.Path)
	if err != nil {
		log.Errorf("read segment %d: %v", seg.Seq, err)
		d.deadLetter(seg, 0, err)
		return
	}

	policy := retry.Policy{
		MaxAttempts: d.cfg.Transcription.MaxAttempts,
		RetryIf: func(err error) bool {
			return errors.Is(err, transcriber.ErrEngineUnavailable) ||
				errors.Is(err, transcriber.ErrEngineTimeout)
		},
	}

	var res transcriber.Result
	attempts := 0
	err = policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx,
			time.Duration(d.cfg.Transcription.TimeoutSeconds)*time.Second)
		defer cancel()
		var terr error
		res, terr = d.engine.Transcribe(callCtx, audioData, d.cfg.Transcription.Language)
		return terr
	})
	if err != nil {
		log.TranscriptionFailed(seg.Seq, attempts, err)
		d.deadLetter(seg, attempts, err)
		return
	}

	entry := transcript.Entry{
		Seq:        seg.Seq,
		StartTime:  seg.StartTime,
		Duration:   seg.Duration,
		Text:       res.Text,
		Confidence: res.Confidence,
	}
	if err := d.logbook.Append(entry); err != nil {
		log.Errorf("append entry %d: %v", seg.Seq, err)
	}
	if err := d.db.InsertEntry(entry); err != nil {
		log.Errorf("store entry %d: %v", seg.Seq, err)
	}
	if err := d.db.RemovePendingSegment(seg.Seq); err != nil {
		log.Errorf("clear pending %d: %v", seg.Seq, err)
	}
	d.entries.Add(1)
	log.TranscriptionText(res.Text)
}

// deadLetter records the failure and moves the audio aside so the retention
// sweep treats it like any other expired file. The segment is never dropped
// silently.
func (d *Daemon) deadLetter(seg *segment.Segment, attempts int, cause error) {
	path := seg.Path
	moved := filepath.Join(d.deadLetterDir(), filepath.Base(seg.Path))
	if err := os.Rename(seg.Path, moved); err == nil {
		path = moved
	}
	err := d.db.AddDeadLetter(store.DeadLetter{
		Seq:       seg.Seq,
		Path:      path,
		StartTime: seg.StartTime,
		Duration:  seg.Duration,
		Attempts:  attempts,
		LastError: cause.Error(),
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Errorf("dead-letter %d: %v", seg.Seq, err)
		return
	}
	if err := d.db.RemovePendingSegment(seg.Seq); err != nil {
		log.Errorf("clear pending %d: %v", seg.Seq, err)
	}
}

// buildPeriod is the scheduler's BuildFunc: summarize, write the artifact
// file, then sync.
func (d *Daemon) buildPeriod(ctx context.Context, start, end time.Time, kind summary.Kind) error {
	sum, err := d.builder.Build(ctx, start, end, kind)
	if err != nil {
		log.SummaryEvent(string(kind), "failed", start, end)
		return err
	}
	outcome := "built"
	if sum.Empty {
		outcome = "empty"
	}
	log.SummaryEvent(string(kind), outcome, start, end)

	if err := d.writeSummaryFile(sum); err != nil {
		log.Errorf("summary artifact file: %v", err)
	}

	if d.dispatcher != nil {
		rec, serr := d.dispatcher.Sync(ctx, sum.ArtifactID(), sum.ArtifactID(), sum.Content)
		if serr != nil {
			log.SyncEvent(sum.ArtifactID(), "failed", rec.Attempts)
		} else {
			log.SyncEvent(sum.ArtifactID(), rec.Status, rec.Attempts)
		}
	}
	return nil
}

func (d *Daemon) writeSummaryFile(sum summary.Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(d.summariesDir(), sum.ArtifactID()+".json")
	return os.WriteFile(path, data, 0o644)
}

// lookupArtifact resolves artifact ids for the dispatcher's periodic sweep.
func (d *Daemon) lookupArtifact(artifactID string) (string, string, bool) {
	sums, err := d.db.SummariesSince(time.Time{})
	if err != nil {
		return "", "", false
	}
	for _, sum := range sums {
		if sum.ArtifactID() == artifactID {
			return artifactID, sum.Content, true
		}
	}
	return "", "", false
}

// runRetention deletes raw audio older than the configured age at the
// configured local time. Transcripts and summaries are never expired.
func (d *Daemon) runRetention(ctx context.Context) error {
	at, err := config.ParseClock(d.cfg.Storage.CleanupTime)
	if err != nil {
		return err
	}
	for {
		now := d.clock.Now()
		select {
		case <-d.clock.After(at.Next(now).Sub(now)):
			d.cleanupAudio()
		case <-d.plane.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Daemon) cleanupAudio() {
	maxAge := time.Duration(d.cfg.Storage.MaxAudioAgeDays) * 24 * time.Hour
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	entries, err := os.ReadDir(d.segmentsDir())
	if err != nil {
		log.Errorf("retention scan: %v", err)
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.segmentsDir(), e.Name())); err == nil {
				removed++
			}
		}
	}

	paths, err := d.db.PruneDeadLetters(cutoff)
	if err != nil {
		log.Errorf("retention dead letters: %v", err)
	}
	for _, p := range paths {
		os.Remove(p)
	}
	log.Infof("retention: removed %d audio files, %d dead letters", removed, len(paths))
}

// runStatus logs a heartbeat with pipeline depth and scheduler state.
func (d *Daemon) runStatus(ctx context.Context) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			state, nextFire, catchUp := d.scheduler.State()
			log.Infof("status: segments=%d entries=%d dropped=%d queue=%d/%d inflight=%d paused=%v sched=%s next=%s catchup=%v",
				d.segments.Load(), d.entries.Load(), d.pcmDropped.Load(), d.queue.Depth(), d.queue.Cap(),
				d.inflight.Count(), d.plane.Paused(), state, nextFire.Format(time.RFC3339), catchUp)
		case <-d.plane.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
