// Package capture turns a blocking audio device into a stream of
// fixed-duration mono frames.
//
// A [Source] owns one [Device] at a time. A background reader fills
// frames of FrameDuration at the device's native rate and hands them to
// [Source.Next], which waits at most twice the frame duration before
// reporting [ErrTimeout]. A failed read closes the device and reopens it
// with exponential backoff; when every attempt fails the source ends with
// [ErrDevice]. Frames are never synthesized to fill a gap.
//
// Devices come from an [Opener]. The portaudio, miniaudio and wavfile
// packages provide real ones; tests use in-memory fakes.
package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDevice is returned when the device cannot be opened or reopened.
	ErrDevice = errors.New("capture: audio device error")

	// ErrTimeout is returned by Next when no frame arrives in time. The
	// source is still usable.
	ErrTimeout = errors.New("capture: audio timeout")

	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("capture: source closed")
)

// DefaultDevice selects the system default capture device.
const DefaultDevice = -1

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Index             int     `json:"index" yaml:"index"`
	Name              string  `json:"name" yaml:"name"`
	InputChannels     int     `json:"input_channels" yaml:"input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate" yaml:"default_sample_rate"`
	Default           bool    `json:"default" yaml:"default"`
}

// DeviceSpec is what an Opener is asked to open.
type DeviceSpec struct {
	// Index is the device index, or DefaultDevice.
	Index      int
	SampleRate int
	Channels   int
	// FramesPerRead is the number of sample frames (per channel) in one
	// Read call.
	FramesPerRead int
}

func (s DeviceSpec) String() string {
	return fmt.Sprintf("device=%d rate=%d channels=%d frames=%d", s.Index, s.SampleRate, s.Channels, s.FramesPerRead)
}

// Device is an open capture stream of interleaved 16-bit samples.
type Device interface {
	// Read fills buf and blocks until it is full. It returns n < len(buf)
	// only together with an error; io.EOF marks the clean end of a finite
	// source.
	Read(buf []int16) (n int, err error)

	// Close stops the stream. A Read in progress returns.
	Close() error
}

// Opener opens a device matching spec.
type Opener func(ctx context.Context, spec DeviceSpec) (Device, error)

// Lister enumerates capture devices.
type Lister func() ([]DeviceInfo, error)
