package mfcc

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrConfig is returned when an extractor config is unusable.
var ErrConfig = errors.New("mfcc: invalid config")

// Config controls MFCC extraction.
type Config struct {
	SampleRate int     `yaml:"sample_rate" json:"sample_rate"`
	FFTSize    int     `yaml:"n_fft" json:"n_fft"`
	HopSize    int     `yaml:"hop_length" json:"hop_length"`
	NumMels    int     `yaml:"n_mels" json:"n_mels"`
	NumCoeffs  int     `yaml:"coefficients" json:"coefficients"`
	TimeSteps  int     `yaml:"time_steps" json:"time_steps"`
	LowFreq    float64 `yaml:"fmin" json:"fmin"`
	HighFreq   float64 `yaml:"fmax,omitempty" json:"fmax,omitempty"` // 0 means Nyquist
	Scale      Scale   `yaml:"mel_scale" json:"mel_scale"`
	TopDB      float64 `yaml:"top_db" json:"top_db"` // 0 disables clamping
	Epsilon    float64 `yaml:"epsilon" json:"epsilon"`
}

// DefaultConfig returns the front-end the bundled models expect.
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		FFTSize:    2048,
		HopSize:    512,
		NumMels:    128,
		NumCoeffs:  13,
		TimeSteps:  29,
		Scale:      ScaleSlaney,
		TopDB:      80,
		Epsilon:    1e-8,
	}
}

// Validate reports whether cfg describes a usable extractor.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrConfig, c.SampleRate)
	case c.FFTSize <= 0 || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("%w: fft size %d is not a power of two", ErrConfig, c.FFTSize)
	case c.HopSize <= 0:
		return fmt.Errorf("%w: hop size %d", ErrConfig, c.HopSize)
	case c.NumMels <= 0:
		return fmt.Errorf("%w: mel bins %d", ErrConfig, c.NumMels)
	case c.NumCoeffs <= 0 || c.NumCoeffs > c.NumMels:
		return fmt.Errorf("%w: %d coefficients for %d mel bins", ErrConfig, c.NumCoeffs, c.NumMels)
	case c.TimeSteps <= 0:
		return fmt.Errorf("%w: time steps %d", ErrConfig, c.TimeSteps)
	case c.Scale != ScaleSlaney && c.Scale != ScaleHTK:
		return fmt.Errorf("%w: mel scale %q", ErrConfig, c.Scale)
	case c.LowFreq < 0 || c.highFreq() <= c.LowFreq || c.highFreq() > float64(c.SampleRate)/2:
		return fmt.Errorf("%w: band %.0f-%.0f Hz", ErrConfig, c.LowFreq, c.highFreq())
	case c.TopDB < 0 || c.Epsilon < 0:
		return fmt.Errorf("%w: negative top_db or epsilon", ErrConfig)
	}
	return nil
}

func (c Config) highFreq() float64 {
	if c.HighFreq == 0 {
		return float64(c.SampleRate) / 2
	}
	return c.HighFreq
}

// Shape returns the window shape produced by an extractor with this config.
func (c Config) Shape() Shape {
	return Shape{Coefficients: c.NumCoeffs, TimeSteps: c.TimeSteps}
}

// Shape is the fixed size of a feature window.
type Shape struct {
	Coefficients int `yaml:"coefficients" json:"coefficients"`
	TimeSteps    int `yaml:"time_steps" json:"time_steps"`
}

// Len returns Coefficients * TimeSteps.
func (s Shape) Len() int { return s.Coefficients * s.TimeSteps }

func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.TimeSteps, s.Coefficients)
}

// Window is one normalized feature matrix.
type Window struct {
	Shape Shape
	// Data is row-major [TimeSteps][Coefficients].
	Data []float32
	// Timestamp is the stream position of the audio the window was built from.
	Timestamp time.Duration
}

// At returns the coefficient c of time step t.
func (w Window) At(t, c int) float32 {
	return w.Data[t*w.Shape.Coefficients+c]
}

// Row returns the coefficients of time step t. The slice aliases Data.
func (w Window) Row(t int) []float32 {
	n := w.Shape.Coefficients
	return w.Data[t*n : (t+1)*n]
}

// Extractor computes MFCC windows. It holds only precomputed tables and
// is safe for concurrent use.
type Extractor struct {
	cfg     Config
	window  []float64
	melBank [][]float64
	dct     [][]float64
}

// New creates an Extractor with the given config.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:     cfg,
		window:  hannWindow(cfg.FFTSize),
		melBank: melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.highFreq(), cfg.Scale, cfg.Scale == ScaleSlaney),
		dct:     dctMatrix(cfg.NumCoeffs, cfg.NumMels),
	}, nil
}

// Config returns the extractor config.
func (e *Extractor) Config() Config { return e.cfg }

// Shape returns the shape of every window Extract produces.
func (e *Extractor) Shape() Shape { return e.cfg.Shape() }

// NumFrames returns the number of analysis frames for n samples.
func (e *Extractor) NumFrames(n int) int {
	return 1 + n/e.cfg.HopSize
}

// Coefficients computes raw MFCCs without fixing the length or normalizing.
// Output: [frames][NumCoeffs] with frames = 1 + len(pcm)/HopSize.
func (e *Extractor) Coefficients(pcm []float32) [][]float32 {
	cfg := e.cfg
	nfft := cfg.FFTSize
	pad := nfft / 2
	halfFFT := nfft/2 + 1
	numFrames := e.NumFrames(len(pcm))

	padded := make([]float64, len(pcm)+2*pad)
	for i, s := range pcm {
		padded[pad+i] = float64(s)
	}

	real := make([]float64, nfft)
	imag := make([]float64, nfft)
	power := make([]float64, halfFFT)

	logMel := make([][]float64, numFrames)
	maxDB := math.Inf(-1)
	for t := range numFrames {
		start := t * cfg.HopSize
		for i := range nfft {
			real[i] = padded[start+i] * e.window[i]
			imag[i] = 0
		}
		fft(real, imag)
		for k := range halfFFT {
			power[k] = real[k]*real[k] + imag[k]*imag[k]
		}

		row := make([]float64, cfg.NumMels)
		for m, filter := range e.melBank {
			var sum float64
			for k, w := range filter {
				if w != 0 {
					sum += w * power[k]
				}
			}
			row[m] = powerToDB(sum)
			maxDB = math.Max(maxDB, row[m])
		}
		logMel[t] = row
	}

	if cfg.TopDB > 0 {
		floor := maxDB - cfg.TopDB
		for _, row := range logMel {
			for m, v := range row {
				if v < floor {
					row[m] = floor
				}
			}
		}
	}

	out := make([][]float32, numFrames)
	for t, row := range logMel {
		coeffs := make([]float32, cfg.NumCoeffs)
		for k, basis := range e.dct {
			var sum float64
			for m, v := range row {
				sum += basis[m] * v
			}
			coeffs[k] = float32(sum)
		}
		out[t] = coeffs
	}
	return out
}

// Extract computes a normalized window of exactly Shape() from pcm.
// Short inputs are zero padded on the time axis and long ones truncated.
func (e *Extractor) Extract(pcm []float32) Window {
	shape := e.Shape()
	coeffs := e.Coefficients(pcm)

	data := make([]float32, shape.Len())
	for t := 0; t < shape.TimeSteps && t < len(coeffs); t++ {
		copy(data[t*shape.Coefficients:], coeffs[t])
	}
	Normalize(data, e.cfg.Epsilon)
	return Window{Shape: shape, Data: data}
}

// Normalize applies (x - mean) / (std + eps) over all of data in place,
// with the population standard deviation.
func Normalize(data []float32, eps float64) {
	if len(data) == 0 {
		return
	}
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}
	mean := sum / float64(len(data))

	var varSum float64
	for _, v := range data {
		d := float64(v) - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(data)))

	for i, v := range data {
		data[i] = float32((float64(v) - mean) / (std + eps))
	}
}

const amin = 1e-10

// powerToDB is 10*log10(max(amin, p)) with a reference power of 1.
func powerToDB(p float64) float64 {
	return 10 * math.Log10(math.Max(amin, p))
}
