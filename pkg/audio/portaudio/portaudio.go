// Package portaudio captures audio through the PortAudio library.
//
// It provides a capture.Opener and capture.Lister for the "portaudio"
// capture backend. Streams open on a device index, or on the system
// default input when the index is capture.DefaultDevice, and read
// blocking interleaved 16-bit samples.
//
// For go build: requires portaudio installed via pkg-config (brew install portaudio)
package portaudio

/*
#cgo pkg-config: portaudio-2.0

#include <portaudio.h>
#include <stdlib.h>
#include <string.h>

// Wrapper functions using void* to avoid CGO type issues with PaStream
static PaError pa_open_stream(void **stream,
                              const PaStreamParameters *inputParams,
                              double sampleRate,
                              unsigned long framesPerBuffer,
                              PaStreamFlags streamFlags) {
    return Pa_OpenStream((PaStream**)stream, inputParams, NULL, sampleRate,
                         framesPerBuffer, streamFlags, NULL, NULL);
}

static PaError pa_start_stream(void *stream) {
    return Pa_StartStream((PaStream*)stream);
}

static PaError pa_stop_stream(void *stream) {
    return Pa_StopStream((PaStream*)stream);
}

static PaError pa_close_stream(void *stream) {
    return Pa_CloseStream((PaStream*)stream);
}

static PaError pa_read_stream(void *stream, void *buffer, unsigned long frames) {
    return Pa_ReadStream((PaStream*)stream, buffer, frames);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/haivivi/wakeword/pkg/audio/capture"
)

var (
	initOnce sync.Once
	initErr  error
)

// paError converts a PortAudio error code to a Go error.
func paError(code C.PaError) error {
	if code == C.paNoError {
		return nil
	}
	return errors.New(C.GoString(C.Pa_GetErrorText(code)))
}

// Initialize initializes the PortAudio library.
// It is safe to call multiple times.
func Initialize() error {
	initOnce.Do(func() {
		initErr = paError(C.Pa_Initialize())
	})
	return initErr
}

// Terminate terminates the PortAudio library.
func Terminate() error {
	return paError(C.Pa_Terminate())
}

// Devices lists devices with at least one input channel.
func Devices() ([]capture.DeviceInfo, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %w", capture.ErrDevice, err)
	}

	count := int(C.Pa_GetDeviceCount())
	if count < 0 {
		return nil, fmt.Errorf("%w: portaudio: %w", capture.ErrDevice, paError(C.PaError(count)))
	}

	defaultInput := int(C.Pa_GetDefaultInputDevice())
	var devices []capture.DeviceInfo
	for i := 0; i < count; i++ {
		info := C.Pa_GetDeviceInfo(C.PaDeviceIndex(i))
		if info == nil || info.maxInputChannels <= 0 {
			continue
		}
		devices = append(devices, capture.DeviceInfo{
			Index:             i,
			Name:              C.GoString(info.name),
			InputChannels:     int(info.maxInputChannels),
			DefaultSampleRate: float64(info.defaultSampleRate),
			Default:           i == defaultInput,
		})
	}
	return devices, nil
}

// Stream is an open input stream. It implements capture.Device.
type Stream struct {
	stream    unsafe.Pointer
	buffer    unsafe.Pointer
	channels  int
	framesPer int
	closed    bool
	mu        sync.Mutex
}

// Open opens and starts an input stream for spec.
func Open(spec capture.DeviceSpec) (*Stream, error) {
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio: %w", capture.ErrDevice, err)
	}
	if spec.Channels <= 0 || spec.SampleRate <= 0 || spec.FramesPerRead <= 0 {
		return nil, fmt.Errorf("%w: portaudio: invalid %v", capture.ErrDevice, spec)
	}

	device := C.PaDeviceIndex(spec.Index)
	if spec.Index == capture.DefaultDevice {
		device = C.Pa_GetDefaultInputDevice()
		if device == C.paNoDevice {
			return nil, fmt.Errorf("%w: portaudio: no default input device", capture.ErrDevice)
		}
	} else if spec.Index < 0 || spec.Index >= int(C.Pa_GetDeviceCount()) {
		return nil, fmt.Errorf("%w: portaudio: no device %d", capture.ErrDevice, spec.Index)
	}
	info := C.Pa_GetDeviceInfo(device)
	if info == nil {
		return nil, fmt.Errorf("%w: portaudio: failed to get device info", capture.ErrDevice)
	}
	if int(info.maxInputChannels) < spec.Channels {
		return nil, fmt.Errorf("%w: portaudio: device %d has %d input channels, want %d",
			capture.ErrDevice, int(device), int(info.maxInputChannels), spec.Channels)
	}

	inputParams := &C.PaStreamParameters{
		device:                    device,
		channelCount:              C.int(spec.Channels),
		sampleFormat:              C.paInt16,
		suggestedLatency:          info.defaultHighInputLatency,
		hostApiSpecificStreamInfo: nil,
	}

	// Reads are split into 100ms buffers so a long frame does not need
	// one huge host buffer.
	framesPer := min(spec.FramesPerRead, max(spec.SampleRate/10, 1))

	var paStream unsafe.Pointer
	if err := paError(C.pa_open_stream(
		&paStream,
		inputParams,
		C.double(spec.SampleRate),
		C.ulong(framesPer),
		C.paClipOff,
	)); err != nil {
		return nil, fmt.Errorf("%w: portaudio: open %v: %w", capture.ErrDevice, spec, err)
	}

	s := &Stream{
		stream:    paStream,
		buffer:    C.malloc(C.size_t(framesPer * spec.Channels * 2)),
		channels:  spec.Channels,
		framesPer: framesPer,
	}
	if err := paError(C.pa_start_stream(paStream)); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: portaudio: start: %w", capture.ErrDevice, err)
	}
	return s, nil
}

// Close stops and closes the stream. A Read in progress finishes first.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	C.pa_stop_stream(s.stream)
	err := paError(C.pa_close_stream(s.stream))
	C.free(s.buffer)
	return err
}

// Read fills buf with interleaved samples, blocking until it is full.
// Input overflows lose samples on the host side but are not errors.
func (s *Stream) Read(buf []int16) (int, error) {
	frames := len(buf) / s.channels
	n := 0
	for n < frames {
		chunk := min(frames-n, s.framesPer)
		if err := s.readChunk(buf[n*s.channels:(n+chunk)*s.channels], chunk); err != nil {
			return n * s.channels, err
		}
		n += chunk
	}
	return n * s.channels, nil
}

func (s *Stream) readChunk(dst []int16, frames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return capture.ErrClosed
	}
	code := C.pa_read_stream(s.stream, s.buffer, C.ulong(frames))
	if code != C.paNoError && code != C.paInputOverflowed {
		return paError(code)
	}
	C.memcpy(unsafe.Pointer(&dst[0]), s.buffer, C.size_t(len(dst)*2))
	return nil
}

// Opener opens PortAudio streams.
func Opener(ctx context.Context, spec capture.DeviceSpec) (capture.Device, error) {
	return Open(spec)
}

var (
	_ capture.Opener = Opener
	_ capture.Lister = Devices
)
