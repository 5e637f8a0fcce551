package trigger

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"
)

const frame = 1500 * time.Millisecond

func newMachine(t *testing.T, cfg Config) *Machine {
	t.Helper()
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// feed observes values at consecutive frame positions starting at start
// and returns the indexes that fired.
func feed(m *Machine, start time.Duration, values ...float64) []int {
	var fired []int
	for i, v := range values {
		if _, ok := m.Observe(Score{Value: v, Timestamp: start + time.Duration(i)*frame}); ok {
			fired = append(fired, i)
		}
	}
	return fired
}

func TestThreeConsecutive(t *testing.T) {
	m := newMachine(t, Config{Threshold: 0.9, Level: 3})

	for i := range 2 {
		if _, ok := m.Observe(Score{Value: 0.95, Timestamp: time.Duration(i) * frame}); ok {
			t.Fatalf("fired after score %d", i+1)
		}
		if m.State() != StateArmed || m.Count() != i+1 {
			t.Fatalf("after score %d: state %v count %d", i+1, m.State(), m.Count())
		}
	}
	ev, ok := m.Observe(Score{Value: 0.95, Timestamp: 2 * frame})
	if !ok {
		t.Fatal("no wake event after third score")
	}
	if ev.Count != 3 || ev.Score != 0.95 || ev.Timestamp != 2*frame {
		t.Errorf("event = %+v", ev)
	}
	if m.State() != StateIdle || m.Count() != 0 {
		t.Errorf("after event: state %v count %d, want IDLE 0", m.State(), m.Count())
	}
}

func TestNoQualifyingScores(t *testing.T) {
	m := newMachine(t, Config{Threshold: 0.9, Level: 3})
	r := rand.New(rand.NewPCG(1, 2))
	values := make([]float64, 100)
	for i := range values {
		values[i] = r.Float64() * 0.9 * 0.999
	}
	if fired := feed(m, 0, values...); len(fired) != 0 {
		t.Errorf("fired at %v, want none", fired)
	}
}

func TestDisqualifyingResets(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		fired  []int
	}{
		{"spike", []float64{0.1, 0.99, 0.1, 0.99, 0.1}, nil},
		{"two then reset", []float64{0.95, 0.95, 0.5, 0.95, 0.95}, nil},
		{"reset then three", []float64{0.95, 0.95, 0.5, 0.95, 0.95, 0.95}, []int{5}},
		{"exact threshold qualifies", []float64{0.9, 0.9, 0.9}, []int{2}},
		{"nan resets", []float64{0.95, 0.95, math.NaN(), 0.95}, nil},
		{"six in a row fire twice", []float64{0.95, 0.95, 0.95, 0.95, 0.95, 0.95}, []int{2, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(t, Config{Threshold: 0.9, Level: 3})
			fired := feed(m, 0, tt.values...)
			if len(fired) != len(tt.fired) {
				t.Fatalf("fired at %v, want %v", fired, tt.fired)
			}
			for i := range fired {
				if fired[i] != tt.fired[i] {
					t.Errorf("fired at %v, want %v", fired, tt.fired)
				}
			}
		})
	}
}

func TestNeverFiresEarly(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	for level := 1; level <= 5; level++ {
		m := newMachine(t, Config{Threshold: 0.5, Level: level})
		run := 0
		for i := range 2000 {
			v := r.Float64()
			if v >= 0.5 {
				run++
			} else {
				run = 0
			}
			ev, ok := m.Observe(Score{Value: v, Timestamp: time.Duration(i) * frame})
			if ok {
				if run < level || ev.Count != level {
					t.Fatalf("level %d: fired with run %d count %d", level, run, ev.Count)
				}
				run = 0
			}
			if m.Count() != run {
				t.Fatalf("level %d step %d: count %d, want %d", level, i, m.Count(), run)
			}
		}
	}
}

func TestCooldown(t *testing.T) {
	m := newMachine(t, Config{Threshold: 0.9, Level: 1, Cooldown: 2 * time.Second})

	if _, ok := m.Observe(Score{Value: 0.99, Timestamp: 0}); !ok {
		t.Fatal("no event at 0")
	}
	if !m.Cooling(frame) {
		t.Error("Cooling(1.5s) = false, want true")
	}
	// 1.5 s is inside the 2 s cooldown; the qualifying score is ignored
	// and does not count toward the next run.
	if _, ok := m.Observe(Score{Value: 0.99, Timestamp: frame}); ok {
		t.Fatal("fired during cooldown")
	}
	if m.Count() != 0 {
		t.Errorf("count during cooldown = %d, want 0", m.Count())
	}
	if _, ok := m.Observe(Score{Value: 0.99, Timestamp: 2 * frame}); !ok {
		t.Fatal("no event after cooldown")
	}
}

func TestCooldownIgnoresDisqualifying(t *testing.T) {
	m := newMachine(t, Config{Threshold: 0.9, Level: 2, Cooldown: 4 * time.Second})
	if fired := feed(m, 0, 0.95, 0.95); len(fired) != 1 {
		t.Fatalf("fired %v", fired)
	}
	// Scores at 3.0 s and 4.5 s fall inside [1.5 s, 5.5 s).
	if fired := feed(m, 2*frame, 0.95, 0.1, 0.95, 0.95); len(fired) != 1 || fired[0] != 3 {
		t.Errorf("fired %v, want [3]", fired)
	}
}

func TestReset(t *testing.T) {
	m := newMachine(t, Config{Threshold: 0.9, Level: 2, Cooldown: time.Hour})
	feed(m, 0, 0.95)
	m.Reset()
	if m.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", m.State())
	}
	feed(m, frame, 0.95, 0.95)
	m.Reset()
	if m.Cooling(10 * frame) {
		t.Error("cooldown survived Reset")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"ok", Config{Threshold: 0.98, Level: 1, Cooldown: 2 * time.Second}, true},
		{"zero threshold", Config{Threshold: 0, Level: 1}, true},
		{"threshold over one", Config{Threshold: 1.1, Level: 1}, false},
		{"negative threshold", Config{Threshold: -0.1, Level: 1}, false},
		{"nan threshold", Config{Threshold: math.NaN(), Level: 1}, false},
		{"zero level", Config{Threshold: 0.5, Level: 0}, false},
		{"negative cooldown", Config{Threshold: 0.5, Level: 1, Cooldown: -time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrConfig) {
				t.Errorf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "IDLE" || StateArmed.String() != "ARMED" {
		t.Errorf("got %q %q", StateIdle, StateArmed)
	}
}
