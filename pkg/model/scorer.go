package model

import (
	"fmt"
	"slices"
	"sync"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
)

// Scorer maps one feature window to a wake-word probability in [0, 1].
//
// Implementations hold no state between calls, so the same window always
// yields the same score. They must be safe for sequential reuse from a
// single goroutine; callers that score concurrently need one Scorer each
// or their own locking.
type Scorer interface {
	Score(w mfcc.Window) (float64, error)
	Close() error
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(w mfcc.Window) (float64, error)

// Score implements [Scorer].
func (f ScorerFunc) Score(w mfcc.Window) (float64, error) { return f(w) }

// Close implements [Scorer].
func (f ScorerFunc) Close() error { return nil }

// Backend names.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
	BackendNCNN   = "ncnn"
)

// OpenFunc opens a Scorer for an artifact.
type OpenFunc func(a *Artifact) (Scorer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]OpenFunc)
)

func init() {
	RegisterBackend(BackendNative, OpenNative)
}

// RegisterBackend makes a backend available to [Open].
// Typically called from init() in the backend package.
func RegisterBackend(name string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = open
}

// ListBackends returns the registered backend names, sorted.
func ListBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open opens the artifact with the named backend.
func Open(a *Artifact, backend string) (Scorer, error) {
	registryMu.RLock()
	open, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend %q not available (have %v)", ErrLoad, backend, ListBackends())
	}
	return open(a)
}

// CheckShape returns ErrShapeMismatch if w does not have the wanted shape
// or its data length disagrees with its shape.
func CheckShape(w mfcc.Window, want mfcc.Shape) error {
	if w.Shape != want {
		return fmt.Errorf("%w: window %v, model %v", ErrShapeMismatch, w.Shape, want)
	}
	if len(w.Data) != want.Len() {
		return fmt.Errorf("%w: window has %d values, want %d", ErrShapeMismatch, len(w.Data), want.Len())
	}
	return nil
}
