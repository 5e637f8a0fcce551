package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
)

// FormatVersion is the only manifest format this package reads.
const FormatVersion = 1

// NormalizationGlobalZScore is (x - mean) / (std + eps) over the whole window.
const NormalizationGlobalZScore = "global-zscore"

// Manifest is the on-disk description of a model artifact.
type Manifest struct {
	FormatVersion     int        `yaml:"format_version"`
	Name              string     `yaml:"name"`
	Version           string     `yaml:"version"`
	InputShape        mfcc.Shape `yaml:"input_shape"`
	OutputCardinality int        `yaml:"output_cardinality"`
	Features          Features   `yaml:"features"`
	Backends          Backends   `yaml:"backends"`
}

// Features records the front-end the model was trained against.
type Features struct {
	SampleRate    int     `yaml:"sample_rate"`
	FFTSize       int     `yaml:"n_fft"`
	HopSize       int     `yaml:"hop_length"`
	NumMels       int     `yaml:"n_mels"`
	MelScale      string  `yaml:"mel_scale,omitempty"`
	Normalization string  `yaml:"normalization"`
	Epsilon       float64 `yaml:"epsilon"`
}

// Backends lists the files for each runtime. Paths are relative to the
// manifest directory.
type Backends struct {
	Native *NativeFiles `yaml:"native,omitempty"`
	ONNX   *ONNXFiles   `yaml:"onnx,omitempty"`
	NCNN   *NCNNFiles   `yaml:"ncnn,omitempty"`
}

// NativeFiles locates the msgpack weight file.
type NativeFiles struct {
	Weights string `yaml:"weights"`
}

// ONNXFiles locates an ONNX graph and its tensor names.
type ONNXFiles struct {
	Model  string `yaml:"model"`
	Input  string `yaml:"input,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// NCNNFiles locates an ncnn param/bin pair and its blob names.
type NCNNFiles struct {
	Param  string `yaml:"param"`
	Bin    string `yaml:"bin"`
	Input  string `yaml:"input,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// Artifact is a parsed manifest bound to its directory.
type Artifact struct {
	Manifest
	// Dir is the directory backend paths are resolved against.
	Dir string
	// Path is the manifest file the artifact was loaded from.
	Path string
}

// Load reads and checks a manifest. It does not open any backend file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read manifest: %w", ErrLoad, err)
	}
	var m Manifest
	if err := yaml.UnmarshalWithOptions(data, &m, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: parse manifest %s: %w", ErrLoad, path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &Artifact{Manifest: m, Dir: filepath.Dir(path), Path: path}, nil
}

func (m *Manifest) validate() error {
	if m.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: format_version %d, want %d", ErrLoad, m.FormatVersion, FormatVersion)
	}
	if m.OutputCardinality != 1 {
		return fmt.Errorf("%w: output_cardinality %d, want 1", ErrLoad, m.OutputCardinality)
	}
	if m.InputShape.Coefficients <= 0 || m.InputShape.TimeSteps <= 0 {
		return fmt.Errorf("%w: input_shape %v", ErrShapeMismatch, m.InputShape)
	}
	if m.Backends.Native == nil && m.Backends.ONNX == nil && m.Backends.NCNN == nil {
		return fmt.Errorf("%w: no backends", ErrLoad)
	}
	return nil
}

// Resolve returns a backend file path relative to the manifest directory.
// Absolute paths are returned unchanged.
func (a *Artifact) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.Dir, name)
}

// String returns "name@version".
func (a *Artifact) String() string {
	return a.Name + "@" + a.Version
}

// Check compares the artifact against the running feature extractor.
// A shape disagreement is ErrShapeMismatch; any other front-end skew is
// ErrLoad. All problems are reported together.
func (a *Artifact) Check(cfg mfcc.Config) error {
	var errs []error
	if got := cfg.Shape(); got != a.InputShape {
		errs = append(errs, fmt.Errorf("%w: extractor produces %v, artifact %s expects %v",
			ErrShapeMismatch, got, a, a.InputShape))
	}

	f := a.Features
	skew := func(field string, got, want any) {
		errs = append(errs, fmt.Errorf("%w: features.%s is %v, extractor uses %v", ErrLoad, field, want, got))
	}
	if f.SampleRate != cfg.SampleRate {
		skew("sample_rate", cfg.SampleRate, f.SampleRate)
	}
	if f.FFTSize != cfg.FFTSize {
		skew("n_fft", cfg.FFTSize, f.FFTSize)
	}
	if f.HopSize != cfg.HopSize {
		skew("hop_length", cfg.HopSize, f.HopSize)
	}
	if f.NumMels != cfg.NumMels {
		skew("n_mels", cfg.NumMels, f.NumMels)
	}
	if f.MelScale != "" && mfcc.Scale(f.MelScale) != cfg.Scale {
		skew("mel_scale", cfg.Scale, f.MelScale)
	}
	if f.Normalization != NormalizationGlobalZScore {
		skew("normalization", NormalizationGlobalZScore, f.Normalization)
	}
	if !closeEnough(f.Epsilon, cfg.Epsilon) {
		skew("epsilon", cfg.Epsilon, f.Epsilon)
	}
	return errors.Join(errs...)
}

// FeatureConfig returns the extractor config the artifact declares,
// starting from mfcc.DefaultConfig for fields the manifest omits.
func (a *Artifact) FeatureConfig() mfcc.Config {
	cfg := mfcc.DefaultConfig()
	f := a.Features
	if f.SampleRate > 0 {
		cfg.SampleRate = f.SampleRate
	}
	if f.FFTSize > 0 {
		cfg.FFTSize = f.FFTSize
	}
	if f.HopSize > 0 {
		cfg.HopSize = f.HopSize
	}
	if f.NumMels > 0 {
		cfg.NumMels = f.NumMels
	}
	if f.MelScale != "" {
		cfg.Scale = mfcc.Scale(f.MelScale)
	}
	if f.Epsilon > 0 {
		cfg.Epsilon = f.Epsilon
	}
	cfg.NumCoeffs = a.InputShape.Coefficients
	cfg.TimeSteps = a.InputShape.TimeSteps
	return cfg
}

// WriteManifest writes m as YAML to path.
func WriteManifest(path string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("model: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("model: write manifest: %w", err)
	}
	return nil
}

// DefaultManifest describes an artifact for the default front-end with
// only a native weight file.
func DefaultManifest(name, version, weights string) Manifest {
	cfg := mfcc.DefaultConfig()
	return Manifest{
		FormatVersion:     FormatVersion,
		Name:              name,
		Version:           version,
		InputShape:        cfg.Shape(),
		OutputCardinality: 1,
		Features: Features{
			SampleRate:    cfg.SampleRate,
			FFTSize:       cfg.FFTSize,
			HopSize:       cfg.HopSize,
			NumMels:       cfg.NumMels,
			MelScale:      string(cfg.Scale),
			Normalization: NormalizationGlobalZScore,
			Epsilon:       cfg.Epsilon,
		},
		Backends: Backends{Native: &NativeFiles{Weights: weights}},
	}
}

func closeEnough(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12+1e-6*math.Max(math.Abs(a), math.Abs(b))
}
