package model

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
)

// writeArtifact writes a default manifest and random native weights into
// a temp dir and returns the manifest path.
func writeArtifact(t *testing.T, mutate func(*Manifest)) string {
	t.Helper()
	dir := t.TempDir()
	if err := SaveWeights(filepath.Join(dir, "alfred.msgpack"), RandomWeights(DefaultArchitecture(), 1, 0.3)); err != nil {
		t.Fatal(err)
	}
	m := DefaultManifest("alfred", "1.0.0", "alfred.msgpack")
	if mutate != nil {
		mutate(&m)
	}
	path := filepath.Join(dir, "alfred.yaml")
	if err := WriteManifest(path, m); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadArtifact(t *testing.T) {
	path := writeArtifact(t, nil)
	a, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.String() != "alfred@1.0.0" {
		t.Errorf("String() = %q", a.String())
	}
	if a.InputShape != (mfcc.Shape{Coefficients: 13, TimeSteps: 29}) {
		t.Errorf("InputShape = %v", a.InputShape)
	}
	if got := a.Resolve("alfred.msgpack"); got != filepath.Join(filepath.Dir(path), "alfred.msgpack") {
		t.Errorf("Resolve = %q", got)
	}
	if got := a.Resolve("/abs/w.msgpack"); got != "/abs/w.msgpack" {
		t.Errorf("Resolve(abs) = %q", got)
	}
	if err := a.Check(mfcc.DefaultConfig()); err != nil {
		t.Errorf("Check: %v", err)
	}
	if a.FeatureConfig() != mfcc.DefaultConfig() {
		t.Errorf("FeatureConfig = %+v, want default", a.FeatureConfig())
	}
}

func TestLoadArtifactErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Manifest)
		want   error
	}{
		{"format version", func(m *Manifest) { m.FormatVersion = 2 }, ErrLoad},
		{"cardinality", func(m *Manifest) { m.OutputCardinality = 2 }, ErrLoad},
		{"no backends", func(m *Manifest) { m.Backends = Backends{} }, ErrLoad},
		{"zero shape", func(m *Manifest) { m.InputShape.TimeSteps = 0 }, ErrShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeArtifact(t, tt.mutate))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, ErrLoad) {
			t.Errorf("err = %v, want ErrLoad", err)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("format_version: [1"), 0o644)
		if _, err := Load(path); !errors.Is(err, ErrLoad) {
			t.Errorf("err = %v, want ErrLoad", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := writeArtifact(t, nil)
		data, _ := os.ReadFile(path)
		os.WriteFile(path, append(data, []byte("\nlayers: 3\n")...), 0o644)
		if _, err := Load(path); !errors.Is(err, ErrLoad) {
			t.Errorf("err = %v, want ErrLoad", err)
		}
	})
}

func TestArtifactCheck(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*mfcc.Config)
		wantShape bool
		wantLoad  bool
	}{
		{"match", func(*mfcc.Config) {}, false, false},
		{"time steps", func(c *mfcc.Config) { c.TimeSteps = 30 }, true, false},
		{"coefficients", func(c *mfcc.Config) { c.NumCoeffs = 20 }, true, false},
		{"sample rate", func(c *mfcc.Config) { c.SampleRate = 8000; c.HighFreq = 0 }, false, true},
		{"hop", func(c *mfcc.Config) { c.HopSize = 256 }, false, true},
		{"mels", func(c *mfcc.Config) { c.NumMels = 40 }, false, true},
		{"scale", func(c *mfcc.Config) { c.Scale = mfcc.ScaleHTK }, false, true},
		{"epsilon", func(c *mfcc.Config) { c.Epsilon = 1e-5 }, false, true},
		{"shape and rate", func(c *mfcc.Config) { c.TimeSteps = 30; c.SampleRate = 8000 }, true, true},
	}
	a, err := Load(writeArtifact(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mfcc.DefaultConfig()
			tt.mutate(&cfg)
			err := a.Check(cfg)
			if got := errors.Is(err, ErrShapeMismatch); got != tt.wantShape {
				t.Errorf("ErrShapeMismatch = %v, want %v (err %v)", got, tt.wantShape, err)
			}
			if got := errors.Is(err, ErrLoad); got != tt.wantLoad {
				t.Errorf("ErrLoad = %v, want %v (err %v)", got, tt.wantLoad, err)
			}
		})
	}

	t.Run("normalization", func(t *testing.T) {
		a, err := Load(writeArtifact(t, func(m *Manifest) { m.Features.Normalization = "per-coefficient" }))
		if err != nil {
			t.Fatal(err)
		}
		if err := a.Check(mfcc.DefaultConfig()); !errors.Is(err, ErrLoad) {
			t.Errorf("err = %v, want ErrLoad", err)
		}
	})
}

func TestOpen(t *testing.T) {
	if !slices.Contains(ListBackends(), BackendNative) {
		t.Fatalf("ListBackends() = %v, missing native", ListBackends())
	}

	a, err := Load(writeArtifact(t, nil))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(a, BackendNative)
	if err != nil {
		t.Fatalf("Open native: %v", err)
	}
	defer s.Close()

	if _, err := Open(a, "tflite"); !errors.Is(err, ErrLoad) || !strings.Contains(err.Error(), "tflite") {
		t.Errorf("unknown backend err = %v", err)
	}

	noNative, err := Load(writeArtifact(t, func(m *Manifest) {
		m.Backends = Backends{ONNX: &ONNXFiles{Model: "alfred.onnx"}}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(noNative, BackendNative); !errors.Is(err, ErrLoad) {
		t.Errorf("no native backend err = %v, want ErrLoad", err)
	}

	missing, err := Load(writeArtifact(t, func(m *Manifest) { m.Backends.Native.Weights = "gone.msgpack" }))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(missing, BackendNative); !errors.Is(err, ErrLoad) {
		t.Errorf("missing weights err = %v, want ErrLoad", err)
	}
}
