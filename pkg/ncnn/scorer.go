package ncnn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/model"
)

// ErrClosed is returned when scoring on a closed Scorer or Net.
var ErrClosed = errors.New("ncnn: closed")

// Default blob names of PNNX-converted graphs.
const (
	DefaultInput  = "in0"
	DefaultOutput = "out0"
)

func init() {
	model.RegisterBackend(model.BackendNCNN, Open)
}

// Scorer runs a wake-word graph fed with a [time_steps][coefficients] Mat.
type Scorer struct {
	mu     sync.Mutex
	net    *Net
	shape  mfcc.Shape
	input  string
	output string
}

// NewScorer wraps a loaded Net. Empty blob names select the defaults.
func NewScorer(net *Net, shape mfcc.Shape, input, output string) *Scorer {
	if input == "" {
		input = DefaultInput
	}
	if output == "" {
		output = DefaultOutput
	}
	return &Scorer{net: net, shape: shape, input: input, output: output}
}

// Open implements [model.OpenFunc] for the "ncnn" backend. fp16 is
// disabled and extraction is single threaded.
func Open(a *model.Artifact) (model.Scorer, error) {
	files := a.Backends.NCNN
	if files == nil {
		return nil, fmt.Errorf("%w: artifact %s has no ncnn backend", model.ErrLoad, a)
	}
	opt := NewOption()
	if opt == nil {
		return nil, fmt.Errorf("%w: ncnn option_create failed", model.ErrLoad)
	}
	defer opt.Close()
	opt.SetFP16(false).SetNumThreads(1)

	net, err := NewNet(a.Resolve(files.Param), a.Resolve(files.Bin), opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrLoad, err)
	}
	return NewScorer(net, a.InputShape, files.Input, files.Output), nil
}

// Score implements [model.Scorer].
func (s *Scorer) Score(w mfcc.Window) (float64, error) {
	if err := model.CheckShape(w, s.shape); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.net == nil {
		return 0, ErrClosed
	}

	input, err := NewMat2D(s.shape.Coefficients, s.shape.TimeSteps, w.Data)
	if err != nil {
		return 0, err
	}
	defer input.Close()

	ex, err := s.net.NewExtractor()
	if err != nil {
		return 0, err
	}
	defer ex.Close()

	if err := ex.SetInput(s.input, input); err != nil {
		return 0, err
	}
	out, err := ex.Extract(s.output)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	data := out.FloatData()
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: graph returned %d values, want 1", model.ErrShapeMismatch, len(data))
	}
	return float64(data[0]), nil
}

// Close implements [model.Scorer].
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.net == nil {
		return nil
	}
	err := s.net.Close()
	s.net = nil
	return err
}
