package pcm

import (
	"math"
	"time"
)

// Tone returns a sine frame of the given frequency and peak amplitude.
func Tone(format Format, freq, amplitude float64, d time.Duration) Frame {
	n := format.SamplesInDuration(d)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(format.SampleRate)))
	}
	return Frame{Samples: samples, Format: format}
}
