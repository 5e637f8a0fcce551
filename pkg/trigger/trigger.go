// Package trigger turns a stream of detection scores into debounced wake
// events.
//
// # Algorithm
//
// Each score at or above the threshold increments a consecutive counter;
// any other score resets it to zero. When the counter reaches the trigger
// level the machine emits one [WakeEvent], resets the counter and ignores
// scores whose timestamp falls inside the cooldown that follows:
//
//	IDLE --qualifying--> ARMED --qualifying x (level-1)--> WakeEvent, IDLE (cooldown)
//	  ^                    |
//	  +---disqualifying----+
//
// Timestamps are stream positions, so the cooldown is measured in audio
// time and replays behave the same as live capture.
package trigger

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrConfig is returned for an unusable trigger configuration.
var ErrConfig = errors.New("trigger: invalid config")

// State is the debounce state.
type State int

const (
	// StateIdle means no qualifying scores are pending.
	StateIdle State = iota
	// StateArmed means at least one qualifying score is pending.
	StateArmed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Score is one detection score and the stream position of its window.
type Score struct {
	Value     float64
	Timestamp time.Duration
}

// WakeEvent is emitted when enough consecutive scores qualify.
type WakeEvent struct {
	Timestamp time.Duration // position of the window that fired
	Score     float64       // score of that window
	Count     int           // consecutive qualifying scores at trigger
}

// Config holds the trigger parameters.
type Config struct {
	Threshold float64
	Level     int
	Cooldown  time.Duration
}

// Validate reports whether c is usable.
func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0, 1]", ErrConfig, c.Threshold)
	}
	if c.Level < 1 {
		return fmt.Errorf("%w: trigger level %d < 1", ErrConfig, c.Level)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown %v", ErrConfig, c.Cooldown)
	}
	return nil
}

// Machine is the trigger state machine. It is not safe for concurrent use;
// the consumer loop owns it.
type Machine struct {
	cfg Config

	count         int
	cooling       bool
	cooldownUntil time.Duration
}

// New creates a Machine.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg}, nil
}

// Observe feeds one score. It returns the wake event and true when the
// score completes a qualifying run.
func (m *Machine) Observe(s Score) (WakeEvent, bool) {
	if m.cooling {
		if s.Timestamp < m.cooldownUntil {
			return WakeEvent{}, false
		}
		m.cooling = false
	}

	// NaN compares false and resets the run.
	if !(s.Value >= m.cfg.Threshold) {
		m.count = 0
		return WakeEvent{}, false
	}

	m.count++
	if m.count < m.cfg.Level {
		return WakeEvent{}, false
	}

	ev := WakeEvent{Timestamp: s.Timestamp, Score: s.Value, Count: m.count}
	m.count = 0
	if m.cfg.Cooldown > 0 {
		m.cooling = true
		m.cooldownUntil = s.Timestamp + m.cfg.Cooldown
	}
	return ev, true
}

// State returns IDLE or ARMED.
func (m *Machine) State() State {
	if m.count > 0 {
		return StateArmed
	}
	return StateIdle
}

// Count returns the current consecutive qualifying count.
func (m *Machine) Count() int { return m.count }

// Cooling reports whether a score at position ts would be ignored.
func (m *Machine) Cooling(ts time.Duration) bool {
	return m.cooling && ts < m.cooldownUntil
}

// Reset returns the machine to IDLE and clears any cooldown.
func (m *Machine) Reset() {
	m.count = 0
	m.cooling = false
	m.cooldownUntil = 0
}
