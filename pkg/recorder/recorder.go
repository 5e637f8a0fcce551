// Package recorder captures the voice command that follows a wake event.
//
// A Recorder waits for a [trigger.WakeEvent], then accumulates frames at
// capture rate until the speaker stops talking. Energy is measured over
// short blocks inside each frame; a run of blocks below the silence
// threshold ends the command once it is long enough. A hard ceiling cuts
// the command at exactly MaxDuration.
//
// Every finalized [Command] lasts more than MinDuration and at most
// MaxDuration.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/trigger"
)

// ErrConfig is returned for an unusable recorder configuration.
var ErrConfig = errors.New("recorder: invalid config")

// State is the recorder state.
type State int

const (
	StateWaiting State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING_FOR_WAKE"
	case StateRecording:
		return "RECORDING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason says why a command was finalized.
type Reason string

const (
	ReasonSilence     Reason = "silence"
	ReasonMaxDuration Reason = "max_duration"
	ReasonShutdown    Reason = "shutdown"
)

// Config holds the recorder parameters.
type Config struct {
	// SilenceThreshold is the RMS level below which a block is silent.
	SilenceThreshold float64
	SilenceDuration  time.Duration
	MinDuration      time.Duration
	MaxDuration      time.Duration
	// Cooldown is the dead time after finalization before a new wake is
	// accepted.
	Cooldown time.Duration
	// EnergyWindow is the block length for energy measurement. 0 measures
	// each frame as a whole.
	EnergyWindow time.Duration
}

// DefaultEnergyWindow is the energy block length used by the CLI.
const DefaultEnergyWindow = 100 * time.Millisecond

// Validate reports whether c is usable.
func (c Config) Validate() error {
	var errs []error
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w: negative silence threshold", ErrConfig))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("%w: silence duration %v must be positive", ErrConfig, c.SilenceDuration))
	}
	if c.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("%w: negative min duration", ErrConfig))
	}
	if c.MaxDuration <= c.MinDuration {
		errs = append(errs, fmt.Errorf("%w: max duration %v must exceed min duration %v", ErrConfig, c.MaxDuration, c.MinDuration))
	}
	if c.Cooldown < 0 || c.EnergyWindow < 0 {
		errs = append(errs, fmt.Errorf("%w: negative cooldown or energy window", ErrConfig))
	}
	return errors.Join(errs...)
}

// Command is a finalized command buffer.
type Command struct {
	Wake   trigger.WakeEvent
	Format pcm.Format
	// Frames are the recorded frames in order. The last one may be
	// truncated.
	Frames []pcm.Frame
	// Energy is the RMS of each energy block, in order.
	Energy []float64
	Reason Reason
	// Start is the stream position of the first recorded sample.
	Start time.Duration
}

// NumSamples returns the total sample count.
func (c *Command) NumSamples() int {
	n := 0
	for _, f := range c.Frames {
		n += len(f.Samples)
	}
	return n
}

// Duration returns the recorded duration.
func (c *Command) Duration() time.Duration {
	return c.Format.Duration(c.NumSamples())
}

// End returns the stream position just past the last recorded sample.
func (c *Command) End() time.Duration {
	return c.Start + c.Duration()
}

// Samples returns all frames concatenated into a new slice.
func (c *Command) Samples() []float32 {
	out := make([]float32, 0, c.NumSamples())
	for _, f := range c.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Recorder is the command capture state machine. It is owned by the
// consumer loop and is not safe for concurrent use.
type Recorder struct {
	cfg Config
	log *slog.Logger

	state State
	cur   *Command

	// Counters in samples at the command's rate.
	total      int
	silenceRun int

	cooling       bool
	cooldownUntil time.Duration
}

// New creates a Recorder. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{cfg: cfg, log: logger}, nil
}

// State returns WAITING_FOR_WAKE or RECORDING.
func (r *Recorder) State() State { return r.state }

// Recording reports whether frames should be routed to Push.
func (r *Recorder) Recording() bool { return r.state == StateRecording }

// Cooling reports whether a wake at stream position ts would be refused.
func (r *Recorder) Cooling(ts time.Duration) bool {
	return r.cooling && ts < r.cooldownUntil
}

// Begin starts recording with the frame after the wake. It returns false
// if a command is already recording or the post-command cooldown has not
// elapsed.
func (r *Recorder) Begin(ev trigger.WakeEvent) bool {
	if r.state == StateRecording {
		return false
	}
	if r.Cooling(ev.Timestamp) {
		r.log.Debug("wake ignored during recorder cooldown", "at", ev.Timestamp, "until", r.cooldownUntil)
		return false
	}
	r.cooling = false
	r.state = StateRecording
	r.cur = &Command{Wake: ev}
	r.total = 0
	r.silenceRun = 0
	return true
}

// Push adds one frame to the command being recorded. It returns the
// finalized command when this frame completes it. Frames pushed while
// waiting are ignored.
func (r *Recorder) Push(f pcm.Frame) (*Command, bool) {
	if r.state != StateRecording || len(f.Samples) == 0 {
		return nil, false
	}
	cmd := r.cur
	if len(cmd.Frames) == 0 {
		cmd.Format = f.Format
		cmd.Start = f.Timestamp
	} else if f.Format != cmd.Format {
		r.log.Warn("frame format changed during command, frame skipped", "want", cmd.Format, "got", f.Format)
		return nil, false
	}

	format := cmd.Format
	maxSamples := format.SamplesInDuration(r.cfg.MaxDuration)
	minSamples := format.SamplesInDuration(r.cfg.MinDuration)
	silenceSamples := format.SamplesInDuration(r.cfg.SilenceDuration)
	block := format.SamplesInDuration(r.cfg.EnergyWindow)

	s := f.Samples
	for off := 0; off < len(s); {
		n := len(s) - off
		if block > 0 && n > block {
			n = block
		}
		if r.total+n > maxSamples {
			n = maxSamples - r.total
		}

		rms := pcm.RMS(s[off : off+n])
		cmd.Energy = append(cmd.Energy, rms)
		if rms < r.cfg.SilenceThreshold {
			r.silenceRun += n
		} else {
			r.silenceRun = 0
		}
		r.total += n
		off += n

		switch {
		case r.silenceRun >= silenceSamples && r.total > minSamples:
			return r.finalize(f, off, ReasonSilence), true
		case r.total >= maxSamples:
			c := r.finalize(f, off, ReasonMaxDuration)
			r.log.Warn("command reached max duration without silence",
				"duration", c.Duration(), "max", r.cfg.MaxDuration)
			return c, true
		}
	}

	cmd.Frames = append(cmd.Frames, f)
	return nil, false
}

// Flush ends a recording on shutdown. The partial command is returned only
// if its duration lies within [MinDuration, MaxDuration]; otherwise it is
// discarded.
func (r *Recorder) Flush() (*Command, bool) {
	if r.state != StateRecording {
		return nil, false
	}
	cmd := r.cur
	d := cmd.Duration()
	if d < r.cfg.MinDuration || d > r.cfg.MaxDuration || len(cmd.Frames) == 0 {
		r.log.Info("partial command discarded at shutdown", "duration", d, "min", r.cfg.MinDuration)
		r.reset()
		return nil, false
	}
	cmd.Reason = ReasonShutdown
	r.reset()
	return cmd, true
}

// finalize appends f truncated to n samples and closes the command.
func (r *Recorder) finalize(f pcm.Frame, n int, reason Reason) *Command {
	cmd := r.cur
	if n < len(f.Samples) {
		f.Samples = f.Samples[:n:n]
	}
	cmd.Frames = append(cmd.Frames, f)
	cmd.Reason = reason

	r.cooling = r.cfg.Cooldown > 0
	r.cooldownUntil = cmd.End() + r.cfg.Cooldown
	r.reset()
	return cmd
}

func (r *Recorder) reset() {
	r.state = StateWaiting
	r.cur = nil
	r.total = 0
	r.silenceRun = 0
}
