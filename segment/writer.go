package segment

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"scribed/encoder"
)

const windowDuration = 100 * time.Millisecond

// WriterConfig controls segmentation. Zero-value fields take the defaults
// below.
type WriterConfig struct {
	// Dir receives the encoded segment files.
	Dir string
	// MaxDuration force-finalizes a segment regardless of activity.
	MaxDuration time.Duration
	// SilenceCutoff finalizes after this much trailing silence.
	SilenceCutoff time.Duration
	// MinDuration discards finalized segments shorter than this.
	MinDuration time.Duration
	// SilenceThreshold is the normalized RMS below which a window is silent.
	SilenceThreshold float64
	// MinVoicedRatio discards segments whose voiced fraction is below it.
	MinVoicedRatio float64
	// NextSeq seeds the sequence counter, so recovery can keep numbering
	// past segments persisted by an earlier run.
	NextSeq uint64
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.MaxDuration <= 0 {
		c.MaxDuration = 300 * time.Second
	}
	if c.SilenceCutoff <= 0 {
		c.SilenceCutoff = 5 * time.Second
	}
	if c.MinDuration <= 0 {
		c.MinDuration = 3 * time.Second
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 0.01
	}
	if c.MinVoicedRatio <= 0 {
		c.MinVoicedRatio = 0.1
	}
	if c.NextSeq == 0 {
		c.NextSeq = 1
	}
	return c
}

// Writer accumulates PCM into a rolling buffer and finalizes segments on max
// duration or trailing silence. It is single-producer: Feed and Flush must be
// called from one goroutine, normally the capture callback pump.
type Writer struct {
	cfg WriterConfig

	windowFrames int
	maxFrames    int

	buf       []int16
	window    []int16
	start     time.Time
	voiced    int // voiced windows in buf
	total     int // windows in buf
	silentRun time.Duration

	seq       uint64
	discarded uint64
}

func NewWriter(cfg WriterConfig) *Writer {
	cfg = cfg.withDefaults()
	return &Writer{
		cfg:          cfg,
		windowFrames: int(windowDuration * encoder.SampleRate / time.Second),
		maxFrames:    int(cfg.MaxDuration * encoder.SampleRate / time.Second),
		seq:          cfg.NextSeq,
	}
}

// Discarded reports how many finalized segments were dropped by the silence
// gate or the minimum-duration gate.
func (w *Writer) Discarded() uint64 { return w.discarded }

// NextSeq reports the sequence number the next finalized segment will get.
func (w *Writer) NextSeq() uint64 { return w.seq }

// Feed consumes little-endian 16-bit mono PCM and returns any segments that
// finalized while absorbing it. Returned segments are already encoded to
// disk. now stamps the start of a segment whose first sample arrives in this
// call; within a call, sample positions offset it.
func (w *Writer) Feed(pcm []byte, now time.Time) ([]*Segment, error) {
	var out []*Segment
	for i := 0; i+1 < len(pcm); i += 2 {
		if len(w.buf) == 0 && len(w.window) == 0 {
			w.start = now.Add(encoder.Duration(uint64(i / 2)))
			w.voiced, w.total = 0, 0
			w.silentRun = 0
		}
		w.window = append(w.window, int16(binary.LittleEndian.Uint16(pcm[i:])))
		if len(w.window) < w.windowFrames {
			continue
		}

		w.classifyWindow()
		w.buf = append(w.buf, w.window...)
		w.window = w.window[:0]

		seg, err := w.checkBoundaries()
		if err != nil {
			return out, err
		}
		if seg != nil {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (w *Writer) classifyWindow() {
	var sum float64
	for _, s := range w.window {
		f := float64(s) / 32768
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(w.window)))

	w.total++
	if rms >= w.cfg.SilenceThreshold {
		w.voiced++
		w.silentRun = 0
	} else {
		w.silentRun += windowDuration
	}
}

func (w *Writer) checkBoundaries() (*Segment, error) {
	buffered := encoder.Duration(uint64(len(w.buf)))

	if len(w.buf) >= w.maxFrames {
		return w.finalize(ReasonMaxDuration)
	}
	if w.silentRun >= w.cfg.SilenceCutoff && buffered >= w.cfg.MinDuration {
		return w.finalize(ReasonSilence)
	}
	// Pure leading silence: reset rather than accumulate an empty segment.
	if w.voiced == 0 && w.silentRun >= w.cfg.SilenceCutoff {
		w.reset()
	}
	return nil, nil
}

// Flush finalizes whatever is buffered, for shutdown and capture-loss paths.
// Returns nil when the buffer is empty or gated out.
func (w *Writer) Flush() (*Segment, error) {
	if len(w.window) > 0 {
		w.classifyWindow()
		w.buf = append(w.buf, w.window...)
		w.window = w.window[:0]
	}
	if len(w.buf) == 0 {
		return nil, nil
	}
	return w.finalize(ReasonFlush)
}

func (w *Writer) finalize(reason Reason) (*Segment, error) {
	duration := encoder.Duration(uint64(len(w.buf)))
	ratio := 1.0
	if w.total > 0 {
		ratio = float64(w.voiced) / float64(w.total)
	}

	if duration < w.cfg.MinDuration || ratio < w.cfg.MinVoicedRatio {
		w.discarded++
		w.reset()
		return nil, nil
	}

	seq := w.seq
	path := filepath.Join(w.cfg.Dir, Filename(seq, w.start))
	if err := encoder.EncodeToFile(path, w.buf); err != nil {
		// Keep the buffer; a later boundary may retry with a healthy disk.
		return nil, fmt.Errorf("encode segment %d: %w", seq, err)
	}

	seg := &Segment{
		Seq:         seq,
		StartTime:   w.start,
		Duration:    duration,
		Path:        path,
		VoicedRatio: ratio,
		Reason:      reason,
	}
	w.seq++
	w.reset()
	return seg, nil
}

func (w *Writer) reset() {
	w.buf = w.buf[:0]
	w.voiced, w.total = 0, 0
	w.silentRun = 0
}
