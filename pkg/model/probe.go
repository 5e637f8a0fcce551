package model

import (
	"fmt"
	"math"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/audio/resampler"
)

// Probe pushes one silent frame of length d at captureRate through
// resampling, feature extraction and scoring. It fails with
// ErrShapeMismatch if the extractor output does not fit the artifact and
// with ErrLoad if the scorer errors or returns a value outside [0, 1].
//
// Run it once at startup, before the capture loop begins.
func Probe(a *Artifact, ext *mfcc.Extractor, s Scorer, captureRate int, d time.Duration) (float64, error) {
	silence := pcm.Silence(pcm.Mono(captureRate), d)
	samples, err := resampler.Resample(silence.Samples, captureRate, ext.Config().SampleRate)
	if err != nil {
		return 0, fmt.Errorf("model: probe: %w", err)
	}

	win := ext.Extract(samples)
	if err := CheckShape(win, a.InputShape); err != nil {
		return 0, fmt.Errorf("model: probe %s: %w", a, err)
	}

	score, err := s.Score(win)
	if err != nil {
		return 0, fmt.Errorf("%w: probe %s: %w", ErrLoad, a, err)
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: probe %s: score %v outside [0, 1]", ErrLoad, a, score)
	}
	return score, nil
}
