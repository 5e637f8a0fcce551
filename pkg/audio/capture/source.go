package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/pcm"
)

// Config configures a Source.
type Config struct {
	DeviceIndex   int
	SampleRate    int
	Channels      int
	FrameDuration time.Duration

	// ReconnectAttempts bounds reopen attempts after a read error, and
	// retries after a failed first open.
	ReconnectAttempts int
	// ReconnectBackoff is the delay before the first retry; it doubles
	// on each further attempt.
	ReconnectBackoff time.Duration

	// Timeout bounds Next. 0 means twice FrameDuration.
	Timeout time.Duration
}

func (c Config) validate() error {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("capture: invalid format rate=%d channels=%d", c.SampleRate, c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("capture: invalid frame duration %v", c.FrameDuration)
	}
	if pcm.Mono(c.SampleRate).SamplesInDuration(c.FrameDuration) == 0 {
		return fmt.Errorf("capture: frame duration %v holds no samples at %d Hz", c.FrameDuration, c.SampleRate)
	}
	if c.ReconnectAttempts < 0 || c.ReconnectBackoff < 0 || c.Timeout < 0 {
		return fmt.Errorf("capture: negative reconnect or timeout settings")
	}
	return nil
}

type result struct {
	frame pcm.Frame
}

// Source delivers fixed-duration mono frames from a Device.
type Source struct {
	cfg    Config
	open   Opener
	log    *slog.Logger
	spec   DeviceSpec
	format pcm.Format

	frames chan result
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	dev      Device
	terminal error
	started  bool
	closed   bool

	// Reader goroutine state.
	seq      uint64
	position int
}

// NewSource creates a Source. A nil logger uses slog.Default().
func NewSource(cfg Config, open Opener, logger *slog.Logger) (*Source, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if open == nil {
		return nil, errors.New("capture: nil opener")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * cfg.FrameDuration
	}
	format := pcm.Mono(cfg.SampleRate)
	return &Source{
		cfg:  cfg,
		open: open,
		log:  logger,
		spec: DeviceSpec{
			Index:         cfg.DeviceIndex,
			SampleRate:    cfg.SampleRate,
			Channels:      cfg.Channels,
			FramesPerRead: format.SamplesInDuration(cfg.FrameDuration),
		},
		format: format,
		frames: make(chan result, 1),
		done:   make(chan struct{}),
	}, nil
}

// Format returns the format of delivered frames: mono at the capture rate.
func (s *Source) Format() pcm.Format { return s.format }

// Spec returns the device spec the source opens.
func (s *Source) Spec() DeviceSpec { return s.spec }

// Start opens the device, retrying with backoff, and starts reading.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("capture: source already started")
	}
	s.started = true
	s.mu.Unlock()

	dev, err := s.openDevice(ctx)
	if err != nil {
		var lastErr error
		for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
			if err := s.sleep(ctx, attempt); err != nil {
				return err
			}
			if dev, lastErr = s.openDevice(ctx); lastErr == nil {
				break
			}
		}
		if dev == nil {
			if lastErr == nil {
				lastErr = err
			}
			return fmt.Errorf("%w: open %v: %w", ErrDevice, s.spec, lastErr)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	go s.run(runCtx, dev)
	return nil
}

// Next returns the next frame. It fails with ErrTimeout if no frame
// arrives within the timeout, with io.EOF at the end of a finite device,
// with ErrDevice once reconnecting has failed, and with ctx.Err() when
// ctx is done.
func (s *Source) Next(ctx context.Context) (pcm.Frame, error) {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case r, ok := <-s.frames:
		if !ok {
			return pcm.Frame{}, s.terminalErr()
		}
		return r.frame, nil
	case <-timer.C:
		return pcm.Frame{}, fmt.Errorf("%w: no frame for %v", ErrTimeout, s.cfg.Timeout)
	case <-ctx.Done():
		return pcm.Frame{}, ctx.Err()
	}
}

// Close stops reading and closes the device. It waits for an in-flight
// device read to return.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started && s.cancel != nil
	s.mu.Unlock()

	if !started {
		return nil
	}
	s.cancel()
	err := s.closeDevice()
	<-s.done
	return err
}

func (s *Source) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal != nil {
		return s.terminal
	}
	return ErrClosed
}

func (s *Source) openDevice(ctx context.Context) (Device, error) {
	dev, err := s.open(ctx, s.spec)
	if err != nil {
		s.log.Warn("capture device open failed", "spec", s.spec.String(), "error", err)
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		dev.Close()
		return nil, ErrClosed
	}
	s.dev = dev
	s.mu.Unlock()
	return dev, nil
}

func (s *Source) closeDevice() error {
	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.mu.Unlock()
	if dev == nil {
		return nil
	}
	return dev.Close()
}

// sleep waits the backoff for the given 1-based attempt.
func (s *Source) sleep(ctx context.Context, attempt int) error {
	d := s.cfg.ReconnectBackoff << (attempt - 1)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Source) reconnect(ctx context.Context) (Device, error) {
	var lastErr error = errors.New("no reconnect attempts configured")
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		if err := s.sleep(ctx, attempt); err != nil {
			return nil, err
		}
		dev, err := s.openDevice(ctx)
		if err == nil {
			s.log.Info("capture device reconnected", "attempt", attempt)
			return dev, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %d reconnect attempts failed: %w", ErrDevice, s.cfg.ReconnectAttempts, lastErr)
}

func (s *Source) run(ctx context.Context, dev Device) {
	defer close(s.done)
	defer close(s.frames)
	defer s.closeDevice()

	channels := s.cfg.Channels
	buf := make([]int16, s.spec.FramesPerRead*channels)
	for {
		n, err := dev.Read(buf)
		if ctx.Err() != nil {
			return
		}
		n -= n % channels
		switch {
		case err == nil:
			if !s.emit(ctx, buf[:n]) {
				return
			}
			continue
		case errors.Is(err, io.EOF):
			// The last frame of a finite source is padded with silence to a
			// full frame.
			if n > 0 {
				clear(buf[n:])
				if !s.emit(ctx, buf) {
					return
				}
			}
			s.setTerminal(io.EOF)
			return
		}

		// A partial read before a device error cannot line up with the
		// reconnected stream.
		s.log.Warn("capture read failed, reconnecting", "error", err, "discarded", n/channels)
		s.closeDevice()
		dev, err = s.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.setTerminal(err)
			}
			return
		}
	}
}

func (s *Source) emit(ctx context.Context, interleaved []int16) bool {
	samples := pcm.Downmix(pcm.FromInt16(interleaved), s.cfg.Channels)
	frame := pcm.Frame{
		Samples:   samples,
		Format:    s.format,
		Seq:       s.seq,
		Timestamp: s.format.Duration(s.position),
		Captured:  time.Now(),
	}
	s.seq++
	s.position += len(samples)

	select {
	case s.frames <- result{frame: frame}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Source) setTerminal(err error) {
	s.mu.Lock()
	s.terminal = err
	s.mu.Unlock()
}
