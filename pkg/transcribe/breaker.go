package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the operating mode of a Breaker.
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls with ErrCircuitOpen until the reset
	// timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets a single probe call through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration
}

// Breaker wraps a Gateway with a circuit breaker. Only timeouts and
// unavailability count as failures; a rejected request says nothing
// about the service's health.
type Breaker struct {
	next         Gateway
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	openedAt    time.Time
	probeActive bool
}

// NewBreaker wraps next.
func NewBreaker(next Gateway, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		next:         next,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		now:          time.Now,
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Transcribe forwards to the wrapped gateway unless the breaker is open.
func (b *Breaker) Transcribe(ctx context.Context, audio Audio) (string, error) {
	probe, err := b.admit()
	if err != nil {
		return "", err
	}
	text, err := b.next.Transcribe(ctx, audio)
	b.record(probe, err)
	return text, err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		slog.Info("transcription circuit half-open")
		fallthrough
	case BreakerHalfOpen:
		if b.probeActive {
			return false, ErrCircuitOpen
		}
		b.probeActive = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeActive = false
	}
	unhealthy := errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
	if !unhealthy {
		if probe || b.failures > 0 {
			if b.state != BreakerClosed {
				slog.Info("transcription circuit closed")
			}
			b.state = BreakerClosed
			b.failures = 0
		}
		return
	}

	b.failures++
	if probe || b.failures >= b.maxFailures {
		if b.state != BreakerOpen {
			slog.Warn("transcription circuit opened", "consecutive_failures", b.failures)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}
