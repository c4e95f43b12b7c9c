// Package audio abstracts microphone capture behind a small Context and
// CaptureDevice pair so the rest of the pipeline never touches a platform
// audio API directly. Linux uses PulseAudio; everything else goes through
// miniaudio.
package audio

import "errors"

// ErrCaptureLost reports that the capture device disappeared or the audio
// backend failed mid-stream. The pipeline responds by keeping already
// captured segments and retrying device acquisition.
var ErrCaptureLost = errors.New("audio: capture lost")

// DataCallback receives raw PCM from the device. Samples are signed 16-bit
// little-endian mono. The slice is only valid for the duration of the call.
type DataCallback func(pcm []byte, frameCount uint32)

// LossCallback fires at most once per Start when the stream dies for a reason
// other than Stop or Close.
type LossCallback func(err error)

type DeviceInfo struct {
	ID   string
	Name string
}

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultCaptureConfig matches what the transcription providers expect.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: 16000, Channels: 1}
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	// SetCallback installs the PCM sink. Safe to call while capturing.
	SetCallback(DataCallback)
	ClearCallback()
	// SetLossCallback installs the stream-death observer. Must be called
	// before Start.
	SetLossCallback(LossCallback)
	DeviceName() string
}

// FindDevice returns the device whose name contains name, or nil (system
// default) when name is empty.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, errors.New("audio: device not found: " + name)
}
