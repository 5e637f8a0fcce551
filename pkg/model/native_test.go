package model

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
)

var defaultShape = mfcc.Shape{Coefficients: 13, TimeSteps: 29}

func newWindow(shape mfcc.Shape, fill func(t, c int) float32) mfcc.Window {
	data := make([]float32, shape.Len())
	for t := range shape.TimeSteps {
		for c := range shape.Coefficients {
			data[t*shape.Coefficients+c] = fill(t, c)
		}
	}
	return mfcc.Window{Shape: shape, Data: data}
}

func TestNativeConstantOutput(t *testing.T) {
	w := NewWeights(DefaultArchitecture())
	w.FC2Bias[0] = 2
	n, err := NewNative(w, defaultShape)
	if err != nil {
		t.Fatal(err)
	}
	win := newWindow(defaultShape, func(t, c int) float32 { return float32(t - c) })
	score, err := n.Score(win)
	if err != nil {
		t.Fatal(err)
	}
	want := 1 / (1 + math.Exp(-2))
	if math.Abs(score-want) > 1e-12 {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestNativeGRURecurrence(t *testing.T) {
	// With zero GRU matrices the state follows h_t = (1-z)*n + z*h_{t-1}
	// from h_0 = 0, so h_T = n*(1 - z^T).
	arch := Architecture{Inputs: 1, Channels: 1, Kernel: 1, Hidden: 1, Dense: 1}
	w := NewWeights(arch)
	w.GRUBiasIH = []float32{0.2, 0.5, 0.3} // r, z, n
	w.GRUBiasHH = []float32{0.1, -0.2, 0.4}
	w.FC1Weight[0] = 1
	w.FC2Weight[0] = 1

	shape := mfcc.Shape{Coefficients: 1, TimeSteps: 7}
	n, err := NewNative(w, shape)
	if err != nil {
		t.Fatal(err)
	}
	score, err := n.Score(newWindow(shape, func(int, int) float32 { return 1 }))
	if err != nil {
		t.Fatal(err)
	}

	r := sigmoid(0.2 + 0.1)
	z := sigmoid(0.5 - 0.2)
	cand := math.Tanh(0.3 + r*0.4)
	h := cand * (1 - math.Pow(z, 7))
	want := sigmoid(math.Max(h, 0))
	if math.Abs(score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestNativeConvBatchNorm(t *testing.T) {
	// A single channel conv with a centered unit tap copies the input;
	// batch norm then maps y to (y-mean)/sqrt(var+eps)*gamma+beta. The GRU
	// input weight for n is the only path to the output.
	arch := Architecture{Inputs: 1, Channels: 1, Kernel: 3, Hidden: 1, Dense: 1}
	w := NewWeights(arch)
	w.ConvWeight = []float32{0, 1, 0}
	w.BNMean[0] = 0.5
	w.BNVar[0] = 4
	w.BNGamma[0] = 2
	w.BNBeta[0] = 0.25
	w.GRUWeightIH = []float32{0, 0, 1} // r, z, n rows
	w.GRUBiasIH = []float32{0, -50, 0} // z ~ 0: state follows the candidate
	w.FC1Weight[0] = 1
	w.FC2Weight[0] = 1

	shape := mfcc.Shape{Coefficients: 1, TimeSteps: 3}
	n, err := NewNative(w, shape)
	if err != nil {
		t.Fatal(err)
	}
	last := float32(1.5)
	score, err := n.Score(newWindow(shape, func(t, _ int) float32 {
		if t == 2 {
			return last
		}
		return -1
	}))
	if err != nil {
		t.Fatal(err)
	}

	bn := (float64(last)-0.5)/math.Sqrt(4+1e-5)*2 + 0.25
	want := sigmoid(math.Max(math.Tanh(bn), 0))
	if math.Abs(score-want) > 1e-6 {
		t.Errorf("score = %v, want %v", score, want)
	}
}

func TestNativeStateless(t *testing.T) {
	n, err := NewNative(RandomWeights(DefaultArchitecture(), 7, 0.5), defaultShape)
	if err != nil {
		t.Fatal(err)
	}
	a := newWindow(defaultShape, func(t, c int) float32 { return float32(math.Sin(float64(t*13 + c))) })
	b := newWindow(defaultShape, func(t, c int) float32 { return float32(math.Cos(float64(t + c*29))) })

	first, err := n.Score(a)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Score(b); err != nil {
		t.Fatal(err)
	}
	again, err := n.Score(a)
	if err != nil {
		t.Fatal(err)
	}
	if first != again {
		t.Errorf("score changed after another window: %v vs %v", first, again)
	}
	if first <= 0 || first >= 1 {
		t.Errorf("score = %v, want in (0, 1)", first)
	}
}

func TestNativeShapeMismatch(t *testing.T) {
	n, err := NewNative(NewWeights(DefaultArchitecture()), defaultShape)
	if err != nil {
		t.Fatal(err)
	}
	tests := []mfcc.Window{
		newWindow(mfcc.Shape{Coefficients: 13, TimeSteps: 30}, func(int, int) float32 { return 0 }),
		{Shape: defaultShape, Data: make([]float32, 10)},
	}
	for i, win := range tests {
		if _, err := n.Score(win); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("case %d: err = %v, want ErrShapeMismatch", i, err)
		}
	}

	if _, err := NewNative(NewWeights(DefaultArchitecture()), mfcc.Shape{Coefficients: 20, TimeSteps: 29}); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("NewNative err = %v, want ErrShapeMismatch", err)
	}
}

func TestWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.msgpack")
	orig := RandomWeights(DefaultArchitecture(), 3, 1)
	if err := SaveWeights(path, orig); err != nil {
		t.Fatal(err)
	}
	got, err := LoadWeights(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Architecture() != orig.Architecture() {
		t.Errorf("architecture = %+v, want %+v", got.Architecture(), orig.Architecture())
	}
	for i := range orig.GRUWeightHH {
		if got.GRUWeightHH[i] != orig.GRUWeightHH[i] {
			t.Fatalf("gru_weight_hh[%d] = %v, want %v", i, got.GRUWeightHH[i], orig.GRUWeightHH[i])
		}
	}
}

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Weights)
	}{
		{"version", func(w *Weights) { w.Version = 9 }},
		{"even kernel", func(w *Weights) { w.Kernel = 2 }},
		{"short conv", func(w *Weights) { w.ConvWeight = w.ConvWeight[:10] }},
		{"short gru", func(w *Weights) { w.GRUBiasHH = w.GRUBiasHH[:5] }},
		{"negative var", func(w *Weights) { w.BNVar[3] = -1 }},
		{"zero eps", func(w *Weights) { w.BNEps = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWeights(DefaultArchitecture())
			tt.mutate(w)
			if err := w.Validate(); !errors.Is(err, ErrLoad) {
				t.Errorf("err = %v, want ErrLoad", err)
			}
		})
	}
}

func BenchmarkScore(b *testing.B) {
	n, err := NewNative(RandomWeights(DefaultArchitecture(), 1, 0.3), defaultShape)
	if err != nil {
		b.Fatal(err)
	}
	ext, err := mfcc.New(mfcc.DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	win := ext.Extract(pcm.Tone(pcm.Mono(16000), 440, 0.5, 1500*time.Millisecond).Samples)

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		if _, err := n.Score(win); err != nil {
			b.Fatal(err)
		}
	}
}
