//go:build !linux

package audio

import (
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	c := &malgoCapture{ctx: m.ctx, info: device, config: config}
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	ctx      *malgo.AllocatedContext
	info     *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu       sync.Mutex
	device   *malgo.Device
	onLoss   LossCallback
	stopping bool
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = c.config.Channels
	deviceConfig.SampleRate = c.config.SampleRate

	if c.info != nil {
		idBytes, err := hex.DecodeString(c.info.ID)
		if err != nil {
			return fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			cb := c.callback.Load()
			if cb != nil {
				(*cb)(data, frameCount)
			}
		},
		// Fires on any device stop, including the ones we asked for.
		Stop: func() {
			c.mu.Lock()
			expected := c.stopping
			onLoss := c.onLoss
			c.mu.Unlock()
			if !expected && onLoss != nil {
				onLoss(ErrCaptureLost)
			}
		},
	}

	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return err
	}
	c.device = dev
	c.stopping = false
	return nil
}

func (c *malgoCapture) Stop() {
	c.mu.Lock()
	c.stopping = true
	dev := c.device
	c.mu.Unlock()
	if dev != nil {
		dev.Stop()
	}
}

func (c *malgoCapture) Close() {
	c.Stop()
	c.mu.Lock()
	dev := c.device
	c.device = nil
	c.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) SetLossCallback(cb LossCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLoss = cb
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name
	}
	return "system default"
}
