package wakeword

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/audio/resampler"
	"github.com/haivivi/wakeword/pkg/audio/wavfile"
	"github.com/haivivi/wakeword/pkg/metrics"
	"github.com/haivivi/wakeword/pkg/model"
	"github.com/haivivi/wakeword/pkg/recorder"
	"github.com/haivivi/wakeword/pkg/transcribe"
	"github.com/haivivi/wakeword/pkg/trigger"
)

const (
	commandBacklog = 2
	eventBacklog   = 64
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("wakeword: pipeline already running")

// FrameSource produces capture-rate mono frames. *capture.Source
// implements it.
type FrameSource interface {
	Start(ctx context.Context) error
	Next(ctx context.Context) (pcm.Frame, error)
	Close() error
}

var _ FrameSource = (*capture.Source)(nil)

// Options wires a Pipeline.
type Options struct {
	Config    Config
	Source    FrameSource
	Extractor *mfcc.Extractor
	Scorer    model.Scorer

	// Artifact, if set, is probed once in New with a silent frame.
	Artifact *model.Artifact

	// Gateway receives every finalized command. Nil skips transcription.
	Gateway  transcribe.Gateway
	Archiver Archiver
	Sinks    []Sink

	// Lossless makes the capture loop wait for queue space instead of
	// dropping the oldest frame. Use it for non-realtime file replay.
	Lossless bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Captured      uint64
	Dropped       uint64
	Timeouts      uint64
	ScoreErrors   uint64
	Wakes         uint64
	Commands      uint64
	Transcripts   uint64
	GatewayErrors uint64
	// EventsLost counts events discarded because sinks fell behind.
	EventsLost uint64
	// Processed counts frames the consumer loop has handled.
	Processed uint64
}

// Pipeline runs capture and detection. The capture loop is the only
// producer into the frame queue and the consumer loop is its only reader;
// the trigger and recorder belong to the consumer loop.
type Pipeline struct {
	cfg      Config
	src      FrameSource
	ext      *mfcc.Extractor
	scorer   model.Scorer
	gateway  transcribe.Gateway
	archiver Archiver
	sinks    []Sink
	lossless bool
	met      *metrics.Metrics
	log      *slog.Logger

	queue *Queue
	trig  *trigger.Machine
	rec   *recorder.Recorder
	rs    *resampler.Resampler

	running atomic.Bool
	events  chan Event

	captured, processed, timeouts, scoreErrors atomic.Uint64
	wakes, commands, transcripts, gatewayErrs  atomic.Uint64
	lostEv                                     atomic.Uint64
}

// New validates the configuration, builds the state machines and, when an
// artifact is given, probes the extractor and scorer against it. Every
// error from New is a startup failure.
func New(opts Options) (*Pipeline, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Source == nil || opts.Extractor == nil || opts.Scorer == nil {
		return nil, fmt.Errorf("wakeword: source, extractor and scorer are required")
	}
	if rate := opts.Extractor.Config().SampleRate; rate != cfg.ModelRate {
		return nil, fmt.Errorf("%w: model_rate %d differs from extractor rate %d", ErrInvalidConfig, cfg.ModelRate, rate)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Artifact != nil {
		if err := opts.Artifact.Check(opts.Extractor.Config()); err != nil {
			return nil, err
		}
		score, err := model.Probe(opts.Artifact, opts.Extractor, opts.Scorer, cfg.CaptureRate, cfg.FrameDuration())
		if err != nil {
			return nil, err
		}
		logger.Debug("model probe passed", "artifact", opts.Artifact.String(), "silence_score", score)
	}

	trig, err := trigger.New(cfg.TriggerConfig())
	if err != nil {
		return nil, err
	}
	rec, err := recorder.New(cfg.RecorderConfig(), logger)
	if err != nil {
		return nil, err
	}
	rs, err := resampler.New(cfg.CaptureRate, cfg.ModelRate)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		src:      opts.Source,
		ext:      opts.Extractor,
		scorer:   opts.Scorer,
		gateway:  opts.Gateway,
		archiver: opts.Archiver,
		sinks:    opts.Sinks,
		lossless: opts.Lossless,
		met:      opts.Metrics,
		log:      logger,
		queue:    NewQueue(cfg.QueueCapacity),
		trig:     trig,
		rec:      rec,
		rs:       rs,
	}, nil
}

// Stats returns the current counters. It is safe to call while running.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Captured:      p.captured.Load(),
		Dropped:       p.queue.Dropped(),
		Processed:     p.processed.Load(),
		Timeouts:      p.timeouts.Load(),
		ScoreErrors:   p.scoreErrors.Load(),
		Wakes:         p.wakes.Load(),
		Commands:      p.commands.Load(),
		Transcripts:   p.transcripts.Load(),
		GatewayErrors: p.gatewayErrs.Load(),
		EventsLost:    p.lostEv.Load(),
	}
}

// Run starts the source and blocks until ctx is done, the source reaches
// end of input, or capture fails for good. Cancellation is not an error.
// Commands finalized before Run returns are archived, transcribed and
// delivered to the sinks before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if err := p.src.Start(ctx); err != nil {
		return err
	}
	defer p.src.Close()

	// Delivery outlives ctx so the final command still reaches the sinks.
	detached := context.WithoutCancel(ctx)
	p.events = make(chan Event, eventBacklog)
	commands := make(chan *recorder.Command, commandBacklog)

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		p.deliver(detached)
	}()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for cmd := range commands {
			p.dispatch(detached, cmd)
		}
	}()

	p.log.Info("pipeline started",
		"capture_rate", p.cfg.CaptureRate,
		"model_rate", p.cfg.ModelRate,
		"frame", p.cfg.FrameDuration(),
		"threshold", p.cfg.Threshold,
		"trigger_level", p.cfg.TriggerLevel)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.captureLoop(gctx) })
	g.Go(func() error { return p.consumeLoop(gctx, commands) })
	err := g.Wait()

	close(commands)
	<-dispatched
	close(p.events)
	<-delivered

	st := p.Stats()
	p.log.Info("pipeline stopped",
		"captured", st.Captured,
		"dropped", st.Dropped,
		"wakes", st.Wakes,
		"commands", st.Commands)
	return err
}

func (p *Pipeline) captureLoop(ctx context.Context) error {
	defer p.queue.Close()
	// pos is the stream position just past the last captured frame.
	var pos time.Duration
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := p.src.Next(ctx)
		switch {
		case err == nil:
			pos = f.End()
			p.captured.Add(1)
			p.met.FrameCaptured(ctx)
			if p.lossless {
				if err := p.queue.PushWait(ctx, f); err != nil {
					return nil
				}
				continue
			}
			if p.queue.Push(f) {
				total := p.queue.Dropped()
				p.log.Warn("frame dropped, detection is falling behind", "dropped_total", total)
				p.met.FrameDropped(ctx)
				ev := newEvent(EventDrop, f.Timestamp)
				ev.Dropped = total
				p.emit(ev)
			}
		case errors.Is(err, capture.ErrTimeout):
			p.timeouts.Add(1)
			p.log.Warn("audio timeout", "error", err)
			p.met.AudioTimeout(ctx)
			p.emit(newEvent(EventTimeout, pos))
		case errors.Is(err, io.EOF):
			p.log.Info("capture reached end of input")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// consumeLoop stops at cancellation without draining the queue; frames
// still queued then are dropped. At end of input the queue is closed
// instead and drains fully.
func (p *Pipeline) consumeLoop(ctx context.Context, commands chan<- *recorder.Command) error {
	for ctx.Err() == nil {
		f, err := p.queue.Pop(ctx)
		if err != nil {
			break
		}
		p.process(ctx, f, commands)
		p.processed.Add(1)
	}
	if cmd, ok := p.rec.Flush(); ok {
		p.finalize(ctx, cmd, commands)
	}
	return nil
}

// process handles one frame in arrival order.
func (p *Pipeline) process(ctx context.Context, f pcm.Frame, commands chan<- *recorder.Command) {
	if p.rec.Recording() {
		if cmd, ok := p.rec.Push(f); ok {
			p.finalize(ctx, cmd, commands)
		}
		return
	}
	if p.rec.Cooling(f.Timestamp) {
		return
	}

	start := time.Now()
	score, err := p.score(f)
	if err != nil {
		p.scoreErrors.Add(1)
		p.log.Warn("frame scoring failed, frame dropped", "at", f.Timestamp, "error", err)
		return
	}
	p.met.Scored(ctx, score, time.Since(start))
	p.log.Debug("frame scored", "at", f.Timestamp, "score", score)

	wake, fired := p.trig.Observe(trigger.Score{Value: score, Timestamp: f.Timestamp})
	if !fired {
		return
	}
	p.wakes.Add(1)
	p.met.Wake(ctx)
	p.log.Info("wake word detected", "at", wake.Timestamp, "score", wake.Score, "count", wake.Count)
	ev := newEvent(EventWake, wake.Timestamp)
	ev.Score = wake.Score
	ev.Count = wake.Count
	p.emit(ev)

	if !p.rec.Begin(wake) {
		p.log.Debug("wake not recorded", "at", wake.Timestamp, "state", p.rec.State())
	}
}

func (p *Pipeline) score(f pcm.Frame) (float64, error) {
	var (
		samples []float32
		err     error
	)
	if rate := f.Format.SampleRate; rate == 0 || rate == p.rs.From() {
		samples, err = p.rs.Resample(f.Samples)
	} else {
		samples, err = resampler.Resample(f.Samples, rate, p.rs.To())
	}
	if err != nil {
		return 0, err
	}
	win := p.ext.Extract(samples)
	win.Timestamp = f.Timestamp
	return p.scorer.Score(win)
}

func (p *Pipeline) finalize(ctx context.Context, cmd *recorder.Command, commands chan<- *recorder.Command) {
	p.commands.Add(1)
	p.met.Command(ctx, string(cmd.Reason), cmd.Duration())
	p.log.Info("command finalized",
		"reason", cmd.Reason,
		"start", cmd.Start,
		"duration", cmd.Duration())
	select {
	case commands <- cmd:
	default:
		p.log.Warn("transcription backlog full, command dropped", "start", cmd.Start, "duration", cmd.Duration())
	}
}

// dispatch archives and transcribes one command. Gateway failures end
// here as a gateway_error event.
func (p *Pipeline) dispatch(ctx context.Context, cmd *recorder.Command) {
	id := uuid.NewString()
	wav, err := wavfile.Encode(cmd.Samples(), cmd.Format)
	if err != nil {
		p.log.Error("encode command", "command_id", id, "error", err)
		return
	}

	ev := newEvent(EventCommand, cmd.Start)
	ev.CommandID = id
	ev.Duration = cmd.Duration()
	ev.Reason = string(cmd.Reason)
	ev.SampleRate = cmd.Format.SampleRate
	if p.archiver != nil {
		key, err := p.archiver.Archive(ctx, id, ev.Time, wav)
		if err != nil {
			p.log.Warn("archive command", "command_id", id, "error", err)
		} else {
			ev.ArchiveKey = key
		}
	}
	p.emit(ev)

	if p.gateway == nil {
		return
	}
	tctx := ctx
	if d := p.cfg.GatewayTimeout(); d > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	start := time.Now()
	text, err := p.gateway.Transcribe(tctx, transcribe.Audio{
		Data:       wav,
		SampleRate: cmd.Format.SampleRate,
		Encoding:   transcribe.EncodingWAV,
	})
	status := transcribe.Classify(err)
	p.met.Gateway(ctx, status, time.Since(start))
	if err != nil {
		p.gatewayErrs.Add(1)
		p.log.Warn("no transcription", "command_id", id, "status", status, "error", err)
		fail := newEvent(EventGatewayError, cmd.Start)
		fail.CommandID = id
		fail.Status = status
		fail.Error = err.Error()
		p.emit(fail)
		return
	}

	p.transcripts.Add(1)
	p.log.Info("command transcribed", "command_id", id, "text", text)
	tr := newEvent(EventTranscript, cmd.Start)
	tr.CommandID = id
	tr.Text = text
	p.emit(tr)
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.lostEv.Add(1)
		p.log.Debug("event dropped, sinks are behind", "kind", ev.Kind)
	}
}

// deliver fans events out to the sinks in order until the channel closes.
func (p *Pipeline) deliver(ctx context.Context) {
	for ev := range p.events {
		for _, s := range p.sinks {
			if err := s.HandleEvent(ctx, ev); err != nil {
				p.log.Warn("event sink failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}
