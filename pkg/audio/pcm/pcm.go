package pcm

import (
	"fmt"
	"time"
)

// Format describes a PCM stream. Depth is always 16 bits on the wire.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at the given rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// Depth returns the bit depth of encoded samples.
func (f Format) Depth() int {
	return 16
}

// SamplesInDuration returns the number of samples per channel in d.
func (f Format) SamplesInDuration(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// BytesInDuration returns the number of encoded bytes in d.
func (f Format) BytesInDuration(d time.Duration) int {
	return f.SamplesInDuration(d) * f.Channels * f.Depth() / 8
}

// Duration returns the duration of n samples per channel.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// BytesRate returns the byte rate of encoded audio.
func (f Format) BytesRate() int {
	return f.SampleRate * f.Channels * f.Depth() / 8
}

// Validate reports whether the format can be captured or encoded.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("pcm: invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("pcm: invalid channel count %d", f.Channels)
	}
	return nil
}

// String returns a MIME-like description of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// Frame is a block of mono samples captured at a fixed cadence.
//
// A Frame is owned by the stage that produced it until it is handed to the
// next stage. Stages never modify Samples in place; derived audio (for
// example the resampled signal) is always a new slice.
type Frame struct {
	// Samples are mono, normalized to [-1, 1].
	Samples []float32

	// Format is the format of Samples. Channels is always 1 after capture.
	Format Format

	// Seq is the capture sequence number, starting at 0.
	Seq uint64

	// Timestamp is the stream position of the first sample, derived from
	// the number of samples delivered before this frame. It is monotonic
	// and independent of the wall clock.
	Timestamp time.Duration

	// Captured is the wall-clock time the frame was completed.
	Captured time.Time
}

// Duration returns the duration covered by the frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Samples))
}

// End returns the stream position just past the last sample.
func (f Frame) End() time.Duration {
	return f.Timestamp + f.Duration()
}

// Silence returns a zero-valued frame of duration d.
func Silence(format Format, d time.Duration) Frame {
	return Frame{
		Samples: make([]float32, format.SamplesInDuration(d)),
		Format:  format,
	}
}
