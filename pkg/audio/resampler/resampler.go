package resampler

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// flushDivisor sets the zero tail appended to each block: 1/flushDivisor of
// a second at the input rate, on top of the measured filter delay.
const flushDivisor = 10

// delays caches the measured group delay per rate pair.
var delays sync.Map // [2]int -> int

// Resampler converts blocks from one fixed rate to another.
// The zero value is not usable; create one with New.
type Resampler struct {
	from, to int
	quality  resampling.QualitySpec
	// delay is the filter's group delay in output samples. It is trimmed
	// from the front of every block so output sample i lines up with input
	// time i/to.
	delay int
}

// New creates a Resampler from rate from to rate to, both in Hz.
func New(from, to int) (*Resampler, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", from, to)
	}
	r := &Resampler{from: from, to: to, quality: resampling.QualitySpec{Preset: resampling.QualityHigh}}
	if from == to {
		return r, nil
	}
	key := [2]int{from, to}
	if d, ok := delays.Load(key); ok {
		r.delay = d.(int)
		return r, nil
	}
	d, err := r.measureDelay()
	if err != nil {
		return nil, err
	}
	delays.Store(key, d)
	r.delay = d
	return r, nil
}

// measureDelay resamples a unit impulse at time zero. The filter is linear
// phase, so the output peak sits at the group delay.
func (r *Resampler) measureDelay() (int, error) {
	impulse := make([]float64, 2*r.from/flushDivisor)
	impulse[0] = 1
	out, err := r.process(impulse)
	if err != nil {
		return 0, err
	}
	peak, best := 0, 0.0
	for i, v := range out {
		if a := math.Abs(v); a > best {
			peak, best = i, a
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("resampler: %d -> %d: impulse response is silent", r.from, r.to)
	}
	return peak, nil
}

// Delay returns the filter delay, in output samples, that Resample removes.
func (r *Resampler) Delay() int { return r.delay }

// From returns the input rate.
func (r *Resampler) From() int { return r.from }

// To returns the output rate.
func (r *Resampler) To() int { return r.to }

// OutputLen returns the exact number of samples Resample produces for n
// input samples: round(n * to / from), with halves rounded up.
func (r *Resampler) OutputLen(n int) int {
	return OutputLen(n, r.from, r.to)
}

// Resample converts one block of mono samples. The input is not modified.
func (r *Resampler) Resample(samples []float32) ([]float32, error) {
	want := r.OutputLen(len(samples))
	if want == 0 {
		return []float32{}, nil
	}
	if r.from == r.to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	// The tail flushes the delayed samples out of the filter.
	tail := r.from/flushDivisor + OutputLen(r.delay, r.to, r.from) + 1
	input := make([]float64, len(samples)+tail)
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.process(input)
	if err != nil {
		return nil, err
	}

	out := make([]float32, want)
	for i := 0; i < want && r.delay+i < len(output); i++ {
		out[i] = float32(output[r.delay+i])
	}
	return out, nil
}

// process runs input through a fresh filter.
func (r *Resampler) process(input []float64) ([]float64, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(r.from),
		OutputRate: float64(r.to),
		Channels:   1,
		Quality:    r.quality,
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: create %d -> %d: %w", r.from, r.to, err)
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: process %d samples: %w", len(input), err)
	}
	return output, nil
}

// Resample converts mono samples from rate from to rate to.
func Resample(samples []float32, from, to int) ([]float32, error) {
	r, err := New(from, to)
	if err != nil {
		return nil, err
	}
	return r.Resample(samples)
}

// OutputLen returns round(n * to / from) using integer arithmetic, so the
// result never depends on floating-point rounding.
func OutputLen(n, from, to int) int {
	if n <= 0 || from <= 0 || to <= 0 {
		return 0
	}
	num := int64(n) * int64(to)
	return int((2*num + int64(from)) / (2 * int64(from)))
}
