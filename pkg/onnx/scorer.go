package onnx

import (
	"fmt"
	"sync"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/model"
)

// Default tensor names of the exported wake-word graph.
const (
	DefaultInput  = "mfcc"
	DefaultOutput = "probability"
)

func init() {
	model.RegisterBackend(model.BackendONNX, Open)
}

var (
	envOnce sync.Once
	env     *Env
	envErr  error
)

// sharedEnv returns the process-wide environment, creating it on first use.
func sharedEnv() (*Env, error) {
	envOnce.Do(func() {
		env, envErr = NewEnv("wakeword")
	})
	return env, envErr
}

// Scorer runs a wake-word graph that maps a (1, time_steps, coefficients)
// window to a single probability.
type Scorer struct {
	mu      sync.Mutex
	session *Session
	shape   mfcc.Shape
	input   string
	output  string
}

// NewScorer loads graph bytes for windows of the given shape.
func NewScorer(graph []byte, shape mfcc.Shape, input, output string, opts SessionOptions) (*Scorer, error) {
	e, err := sharedEnv()
	if err != nil {
		return nil, err
	}
	session, err := e.NewSession(graph, opts)
	if err != nil {
		return nil, err
	}
	if input == "" {
		input = DefaultInput
	}
	if output == "" {
		output = DefaultOutput
	}
	return &Scorer{session: session, shape: shape, input: input, output: output}, nil
}

// Open implements [model.OpenFunc] for the "onnx" backend.
func Open(a *model.Artifact) (model.Scorer, error) {
	files := a.Backends.ONNX
	if files == nil {
		return nil, fmt.Errorf("%w: artifact %s has no onnx backend", model.ErrLoad, a)
	}
	e, err := sharedEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrLoad, err)
	}
	session, err := e.NewSessionFromFile(a.Resolve(files.Model), SessionOptions{Threads: 1})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrLoad, err)
	}
	s := &Scorer{session: session, shape: a.InputShape, input: files.Input, output: files.Output}
	if s.input == "" {
		s.input = DefaultInput
	}
	if s.output == "" {
		s.output = DefaultOutput
	}
	return s, nil
}

// Score implements [model.Scorer].
func (s *Scorer) Score(w mfcc.Window) (float64, error) {
	if err := model.CheckShape(w, s.shape); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, ErrClosed
	}

	input, err := NewTensor([]int64{1, int64(s.shape.TimeSteps), int64(s.shape.Coefficients)}, w.Data)
	if err != nil {
		return 0, err
	}
	defer input.Close()

	outputs, err := s.session.Run([]string{s.input}, []*Tensor{input}, []string{s.output})
	if err != nil {
		return 0, err
	}
	defer outputs[0].Close()

	data, err := outputs[0].FloatData()
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: graph returned %d values, want 1", model.ErrShapeMismatch, len(data))
	}
	return float64(data[0]), nil
}

// Close implements [model.Scorer].
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
