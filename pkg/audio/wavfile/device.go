package wavfile

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/audio/resampler"
)

// Device replays decoded audio as a capture.Device.
type Device struct {
	samples  []int16 // interleaved at the requested format
	channels int
	rate     int
	realtime bool

	mu     sync.Mutex
	pos    int // samples consumed
	start  time.Time
	closed chan struct{}
	once   sync.Once
}

// NewDevice adapts audio to the requested rate and channel count. Mono
// audio is duplicated across channels; multi-channel audio must match
// spec.Channels or is downmixed when spec asks for mono. With realtime
// set, Read blocks until the wall clock reaches the end of the returned
// samples.
func NewDevice(a Audio, spec capture.DeviceSpec, realtime bool) (*Device, error) {
	if spec.SampleRate <= 0 || spec.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid spec %v", capture.ErrDevice, spec)
	}
	if a.Format.Channels != 1 && a.Format.Channels != spec.Channels {
		a = a.Mono()
	}
	samples := a.Samples
	if a.Format.SampleRate != spec.SampleRate {
		mono := a.Mono()
		out, err := resampler.Resample(mono.Samples, mono.Format.SampleRate, spec.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", capture.ErrDevice, err)
		}
		samples, a.Format = out, pcm.Mono(spec.SampleRate)
	}
	if a.Format.Channels == 1 && spec.Channels > 1 {
		wide := make([]float32, 0, len(samples)*spec.Channels)
		for _, s := range samples {
			for range spec.Channels {
				wide = append(wide, s)
			}
		}
		samples = wide
	}
	return &Device{
		samples:  pcm.ToInt16(samples),
		channels: spec.Channels,
		rate:     spec.SampleRate,
		realtime: realtime,
		closed:   make(chan struct{}),
	}, nil
}

// Read copies the next len(buf) samples. The final read may be short and
// returns io.EOF.
func (d *Device) Read(buf []int16) (int, error) {
	select {
	case <-d.closed:
		return 0, capture.ErrClosed
	default:
	}

	d.mu.Lock()
	if d.start.IsZero() {
		d.start = time.Now()
	}
	n := copy(buf, d.samples[d.pos:])
	d.pos += n
	end := d.pos
	start := d.start
	d.mu.Unlock()

	if d.realtime && n > 0 {
		due := start.Add(pcm.Mono(d.rate).Duration(end / d.channels))
		t := time.NewTimer(time.Until(due))
		select {
		case <-t.C:
		case <-d.closed:
			t.Stop()
			return n, capture.ErrClosed
		}
	}
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

// Close ends the device. Pending and later reads return capture.ErrClosed.
func (d *Device) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

// Opener returns a capture.Opener that replays the WAV file at path.
func Opener(path string, realtime bool) capture.Opener {
	return func(ctx context.Context, spec capture.DeviceSpec) (capture.Device, error) {
		a, err := ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", capture.ErrDevice, err)
		}
		return NewDevice(a, spec, realtime)
	}
}
