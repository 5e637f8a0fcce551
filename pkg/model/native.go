package model

import (
	"fmt"
	"math"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
)

// Native evaluates the reference network in pure Go:
//
//	Conv1d(k, pad=k/2) → ReLU → BatchNorm1d → GRU (last step)
//	→ Linear → ReLU → Linear → Sigmoid
//
// The GRU starts from a zero state on every call. Native is safe for
// concurrent use.
type Native struct {
	w     *Weights
	shape mfcc.Shape

	// Batch norm folded into y*bnScale + bnShift.
	bnScale []float64
	bnShift []float64
}

// NewNative builds a scorer for windows of the given shape.
func NewNative(w *Weights, shape mfcc.Shape) (*Native, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.Inputs != shape.Coefficients {
		return nil, fmt.Errorf("%w: weights take %d coefficients, window has %d", ErrShapeMismatch, w.Inputs, shape.Coefficients)
	}
	n := &Native{
		w:       w,
		shape:   shape,
		bnScale: make([]float64, w.Channels),
		bnShift: make([]float64, w.Channels),
	}
	for c := range w.Channels {
		scale := float64(w.BNGamma[c]) / math.Sqrt(float64(w.BNVar[c])+w.BNEps)
		n.bnScale[c] = scale
		n.bnShift[c] = float64(w.BNBeta[c]) - float64(w.BNMean[c])*scale
	}
	return n, nil
}

// OpenNative opens the native backend of an artifact.
func OpenNative(a *Artifact) (Scorer, error) {
	if a.Backends.Native == nil {
		return nil, fmt.Errorf("%w: artifact %s has no native backend", ErrLoad, a)
	}
	w, err := LoadWeights(a.Resolve(a.Backends.Native.Weights))
	if err != nil {
		return nil, err
	}
	return NewNative(w, a.InputShape)
}

// Shape returns the window shape the scorer accepts.
func (n *Native) Shape() mfcc.Shape { return n.shape }

// Score implements [Scorer].
func (n *Native) Score(win mfcc.Window) (float64, error) {
	if err := CheckShape(win, n.shape); err != nil {
		return 0, err
	}
	feats := n.conv(win)
	h := n.gru(feats)
	return n.classify(h), nil
}

// Close implements [Scorer].
func (n *Native) Close() error { return nil }

// conv returns [T][Channels] after conv, ReLU and batch norm.
func (n *Native) conv(win mfcc.Window) [][]float64 {
	w := n.w
	steps := n.shape.TimeSteps
	pad := w.Kernel / 2
	out := make([][]float64, steps)
	for t := range steps {
		row := make([]float64, w.Channels)
		for o := range w.Channels {
			sum := float64(w.ConvBias[o])
			for i := range w.Inputs {
				base := (o*w.Inputs + i) * w.Kernel
				for k := range w.Kernel {
					src := t + k - pad
					if src < 0 || src >= steps {
						continue
					}
					sum += float64(w.ConvWeight[base+k]) * float64(win.At(src, i))
				}
			}
			row[o] = relu(sum)*n.bnScale[o] + n.bnShift[o]
		}
		out[t] = row
	}
	return out
}

// gru runs a single-layer GRU over xs and returns the final state.
func (n *Native) gru(xs [][]float64) []float64 {
	w := n.w
	hid := w.Hidden
	h := make([]float64, hid)
	gi := make([]float64, 3*hid)
	gh := make([]float64, 3*hid)
	next := make([]float64, hid)

	for _, x := range xs {
		affine(gi, w.GRUWeightIH, w.GRUBiasIH, x)
		affine(gh, w.GRUWeightHH, w.GRUBiasHH, h)
		for j := range hid {
			r := sigmoid(gi[j] + gh[j])
			z := sigmoid(gi[hid+j] + gh[hid+j])
			c := math.Tanh(gi[2*hid+j] + r*gh[2*hid+j])
			next[j] = (1-z)*c + z*h[j]
		}
		h, next = next, h
	}
	return h
}

func (n *Native) classify(h []float64) float64 {
	w := n.w
	hidden := make([]float64, w.Dense)
	affine(hidden, w.FC1Weight, w.FC1Bias, h)
	for i, v := range hidden {
		hidden[i] = relu(v)
	}
	logit := float64(w.FC2Bias[0])
	for i, v := range hidden {
		logit += float64(w.FC2Weight[i]) * v
	}
	return sigmoid(logit)
}

// affine computes dst = W·x + b with W of shape [len(dst)][len(x)].
func affine(dst []float64, weight, bias []float32, x []float64) {
	cols := len(x)
	for r := range dst {
		sum := float64(bias[r])
		row := weight[r*cols : (r+1)*cols]
		for c, v := range x {
			sum += float64(row[c]) * v
		}
		dst[r] = sum
	}
}

func relu(x float64) float64 { return max(x, 0) }

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}
