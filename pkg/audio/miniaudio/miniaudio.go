// Package miniaudio captures audio through miniaudio (via malgo).
//
// It is the "miniaudio" capture backend: no system library beyond a C
// compiler is needed, which makes it the portable choice on Linux
// (ALSA, PulseAudio), macOS (CoreAudio) and Windows (WASAPI). Device
// indexes refer to the order of [Devices].
package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/haivivi/wakeword/pkg/audio/capture"
)

// ringSeconds is how much audio the device buffers ahead of Read.
const ringSeconds = 4

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: miniaudio: init context: %w", capture.ErrDevice, err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// Devices lists capture devices.
func Devices() ([]capture.DeviceInfo, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: miniaudio: list devices: %w", capture.ErrDevice, err)
	}
	devices := make([]capture.DeviceInfo, 0, len(infos))
	for i, info := range infos {
		d := capture.DeviceInfo{
			Index:   i,
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		}
		if full, err := ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared); err == nil {
			for _, f := range full.Formats {
				d.InputChannels = max(d.InputChannels, int(f.Channels))
				if d.DefaultSampleRate == 0 {
					d.DefaultSampleRate = float64(f.SampleRate)
				}
			}
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// Device is an open capture device. It implements capture.Device.
type Device struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	ring   *sampleRing
	logger *slog.Logger

	closeOnce sync.Once
}

// Open starts capturing for spec.
func Open(spec capture.DeviceSpec) (*Device, error) {
	if spec.Channels <= 0 || spec.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: miniaudio: invalid %v", capture.ErrDevice, spec)
	}
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(spec.Channels)
	cfg.SampleRate = uint32(spec.SampleRate)
	cfg.Alsa.NoMMap = 1

	if spec.Index != capture.DefaultDevice {
		infos, err := ctx.Devices(malgo.Capture)
		if err != nil {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: miniaudio: list devices: %w", capture.ErrDevice, err)
		}
		if spec.Index < 0 || spec.Index >= len(infos) {
			freeContext(ctx)
			return nil, fmt.Errorf("%w: miniaudio: no device %d", capture.ErrDevice, spec.Index)
		}
		cfg.Capture.DeviceID = infos[spec.Index].ID.Pointer()
	}

	d := &Device{
		ctx:    ctx,
		ring:   newSampleRing(ringSeconds * spec.SampleRate * spec.Channels),
		logger: slog.Default().With("backend", "miniaudio", "device", spec.Index),
	}
	samples := make([]int16, 0, spec.SampleRate*spec.Channels/10)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			samples = samples[:0]
			for i := 0; i+1 < len(input); i += 2 {
				samples = append(samples, int16(binary.LittleEndian.Uint16(input[i:])))
			}
			if lost := d.ring.write(samples); lost > 0 {
				d.logger.Warn("capture overrun", "lost_samples", lost)
			}
		},
		Stop: func() {
			d.ring.close(fmt.Errorf("miniaudio: device stopped"))
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("%w: miniaudio: init device: %w", capture.ErrDevice, err)
	}
	d.dev = dev
	if err := dev.Start(); err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: miniaudio: start: %w", capture.ErrDevice, err)
	}
	return d, nil
}

// Read blocks until buf is full.
func (d *Device) Read(buf []int16) (int, error) {
	return d.ring.readFull(buf)
}

// Dropped returns the number of samples overwritten because Read fell
// behind.
func (d *Device) Dropped() int64 {
	return d.ring.dropped()
}

// Close stops the device. A Read in progress returns capture.ErrClosed.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.ring.close(capture.ErrClosed)
		if d.dev != nil {
			d.dev.Uninit()
		}
		freeContext(d.ctx)
	})
	return nil
}

// Opener opens miniaudio devices.
func Opener(ctx context.Context, spec capture.DeviceSpec) (capture.Device, error) {
	return Open(spec)
}

var (
	_ capture.Opener = Opener
	_ capture.Lister = Devices
)
