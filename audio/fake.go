package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// FakeContext is an in-process audio backend for tests and the -fake-audio
// flag. Captures created from it produce nothing on their own; tests push PCM
// through FakeCapture.Feed and can kill the stream with InjectLoss.
type FakeContext struct {
	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext() *FakeContext {
	return &FakeContext{}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	c := &FakeCapture{}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) Close() {}

// Captures returns every capture created so far, in creation order.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeCapture, len(f.captures))
	copy(out, f.captures)
	return out
}

type FakeCapture struct {
	mu      sync.Mutex
	cb      DataCallback
	onLoss  LossCallback
	started bool
	lost    bool
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.lost = false
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
}

func (f *FakeCapture) Close() { f.Stop() }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetLossCallback(cb LossCallback) {
	f.mu.Lock()
	f.onLoss = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Feed delivers pcm to the installed callback as if the device produced it.
// Dropped silently when not started, like a real backend would.
func (f *FakeCapture) Feed(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	started := f.started && !f.lost
	f.mu.Unlock()
	if cb != nil && started {
		cb(pcm, uint32(len(pcm)/2))
	}
}

// InjectLoss simulates the device dying mid-stream.
func (f *FakeCapture) InjectLoss() {
	f.mu.Lock()
	if f.lost || !f.started {
		f.mu.Unlock()
		return
	}
	f.lost = true
	onLoss := f.onLoss
	f.mu.Unlock()
	if onLoss != nil {
		onLoss(ErrCaptureLost)
	}
}

// Tone generates n frames of a 16-bit mono sine wave at the given frequency
// and amplitude (0..1), for feeding through FakeCapture.
func Tone(freq float64, amplitude float64, n int, sampleRate int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

// Silence generates n frames of zero samples.
func Silence(n int) []byte {
	return make([]byte, n*2)
}
