package model

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// WeightsVersion is the msgpack layout version written by [SaveWeights].
const WeightsVersion = 1

// Weights are the parameters of the native Conv1d + GRU network.
// All matrices are row-major and follow the PyTorch parameter layout.
type Weights struct {
	Version  int `msgpack:"version"`
	Inputs   int `msgpack:"inputs"`   // coefficients per time step
	Channels int `msgpack:"channels"` // conv output channels
	Kernel   int `msgpack:"kernel"`   // odd, padded to keep the length
	Hidden   int `msgpack:"hidden"`   // GRU state size
	Dense    int `msgpack:"dense"`    // first classifier layer width

	ConvWeight []float32 `msgpack:"conv_weight"` // [Channels][Inputs][Kernel]
	ConvBias   []float32 `msgpack:"conv_bias"`   // [Channels]

	BNGamma []float32 `msgpack:"bn_gamma"`
	BNBeta  []float32 `msgpack:"bn_beta"`
	BNMean  []float32 `msgpack:"bn_mean"`
	BNVar   []float32 `msgpack:"bn_var"`
	BNEps   float64   `msgpack:"bn_eps"`

	// Gate order is r, z, n.
	GRUWeightIH []float32 `msgpack:"gru_weight_ih"` // [3*Hidden][Channels]
	GRUWeightHH []float32 `msgpack:"gru_weight_hh"` // [3*Hidden][Hidden]
	GRUBiasIH   []float32 `msgpack:"gru_bias_ih"`   // [3*Hidden]
	GRUBiasHH   []float32 `msgpack:"gru_bias_hh"`   // [3*Hidden]

	FC1Weight []float32 `msgpack:"fc1_weight"` // [Dense][Hidden]
	FC1Bias   []float32 `msgpack:"fc1_bias"`   // [Dense]
	FC2Weight []float32 `msgpack:"fc2_weight"` // [1][Dense]
	FC2Bias   []float32 `msgpack:"fc2_bias"`   // [1]
}

// Architecture holds the layer sizes of the native network.
type Architecture struct {
	Inputs, Channels, Kernel, Hidden, Dense int
}

// DefaultArchitecture is the reference wake-word network.
func DefaultArchitecture() Architecture {
	return Architecture{Inputs: 13, Channels: 32, Kernel: 3, Hidden: 32, Dense: 16}
}

// NewWeights allocates zeroed weights with unit batch-norm scale.
func NewWeights(a Architecture) *Weights {
	w := &Weights{
		Version:  WeightsVersion,
		Inputs:   a.Inputs,
		Channels: a.Channels,
		Kernel:   a.Kernel,
		Hidden:   a.Hidden,
		Dense:    a.Dense,

		ConvWeight: make([]float32, a.Channels*a.Inputs*a.Kernel),
		ConvBias:   make([]float32, a.Channels),
		BNGamma:    make([]float32, a.Channels),
		BNBeta:     make([]float32, a.Channels),
		BNMean:     make([]float32, a.Channels),
		BNVar:      make([]float32, a.Channels),
		BNEps:      1e-5,

		GRUWeightIH: make([]float32, 3*a.Hidden*a.Channels),
		GRUWeightHH: make([]float32, 3*a.Hidden*a.Hidden),
		GRUBiasIH:   make([]float32, 3*a.Hidden),
		GRUBiasHH:   make([]float32, 3*a.Hidden),

		FC1Weight: make([]float32, a.Dense*a.Hidden),
		FC1Bias:   make([]float32, a.Dense),
		FC2Weight: make([]float32, a.Dense),
		FC2Bias:   make([]float32, 1),
	}
	for i := range w.BNGamma {
		w.BNGamma[i] = 1
		w.BNVar[i] = 1
	}
	return w
}

// RandomWeights returns weights drawn uniformly from [-scale, scale] with
// a fixed seed. Used for tests and the example artifact.
func RandomWeights(a Architecture, seed uint64, scale float32) *Weights {
	w := NewWeights(a)
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	fill := func(s []float32) {
		for i := range s {
			s[i] = (r.Float32()*2 - 1) * scale
		}
	}
	for _, s := range [][]float32{
		w.ConvWeight, w.ConvBias, w.BNBeta, w.BNMean,
		w.GRUWeightIH, w.GRUWeightHH, w.GRUBiasIH, w.GRUBiasHH,
		w.FC1Weight, w.FC1Bias, w.FC2Weight, w.FC2Bias,
	} {
		fill(s)
	}
	for i := range w.BNVar {
		w.BNVar[i] = 0.5 + r.Float32()
		w.BNGamma[i] = 0.5 + r.Float32()
	}
	return w
}

// Architecture returns the layer sizes.
func (w *Weights) Architecture() Architecture {
	return Architecture{Inputs: w.Inputs, Channels: w.Channels, Kernel: w.Kernel, Hidden: w.Hidden, Dense: w.Dense}
}

// Validate checks the version and every tensor length.
func (w *Weights) Validate() error {
	if w.Version != WeightsVersion {
		return fmt.Errorf("%w: weights version %d, want %d", ErrLoad, w.Version, WeightsVersion)
	}
	if w.Inputs <= 0 || w.Channels <= 0 || w.Hidden <= 0 || w.Dense <= 0 || w.Kernel <= 0 || w.Kernel%2 == 0 {
		return fmt.Errorf("%w: bad architecture %+v", ErrLoad, w.Architecture())
	}
	if w.BNEps <= 0 {
		return fmt.Errorf("%w: bn_eps %v", ErrLoad, w.BNEps)
	}
	c, h := w.Channels, w.Hidden
	tensors := []struct {
		name string
		got  int
		want int
	}{
		{"conv_weight", len(w.ConvWeight), c * w.Inputs * w.Kernel},
		{"conv_bias", len(w.ConvBias), c},
		{"bn_gamma", len(w.BNGamma), c},
		{"bn_beta", len(w.BNBeta), c},
		{"bn_mean", len(w.BNMean), c},
		{"bn_var", len(w.BNVar), c},
		{"gru_weight_ih", len(w.GRUWeightIH), 3 * h * c},
		{"gru_weight_hh", len(w.GRUWeightHH), 3 * h * h},
		{"gru_bias_ih", len(w.GRUBiasIH), 3 * h},
		{"gru_bias_hh", len(w.GRUBiasHH), 3 * h},
		{"fc1_weight", len(w.FC1Weight), w.Dense * h},
		{"fc1_bias", len(w.FC1Bias), w.Dense},
		{"fc2_weight", len(w.FC2Weight), w.Dense},
		{"fc2_bias", len(w.FC2Bias), 1},
	}
	for _, t := range tensors {
		if t.got != t.want {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrLoad, t.name, t.got, t.want)
		}
	}
	for i, v := range w.BNVar {
		if v < 0 {
			return fmt.Errorf("%w: bn_var[%d] is negative", ErrLoad, i)
		}
	}
	return nil
}

// LoadWeights reads msgpack weights from path.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read weights: %w", ErrLoad, err)
	}
	var w Weights
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: decode weights %s: %w", ErrLoad, path, err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// SaveWeights writes w as msgpack to path.
func SaveWeights(path string, w *Weights) error {
	data, err := msgpack.Marshal(w)
	if err != nil {
		return fmt.Errorf("model: encode weights: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("model: write weights: %w", err)
	}
	return nil
}
