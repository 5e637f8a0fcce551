package wakeword

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/audio/wavfile"
	"github.com/haivivi/wakeword/pkg/model"
	"github.com/haivivi/wakeword/pkg/recorder"
	"github.com/haivivi/wakeword/pkg/transcribe"
)

const testFrame = 500 * time.Millisecond

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Threshold = 0.9
	cfg.CooldownSeconds = 0
	cfg.SilenceDurationSeconds = 1
	cfg.MinDurationSeconds = 0.5
	cfg.MaxDurationSeconds = 5
	cfg.FrameDurationSeconds = testFrame.Seconds()
	cfg.CaptureRate = 16000
	cfg.ModelRate = 16000
	cfg.Gateway.Kind = transcribe.KindNone
	return cfg
}

type step struct {
	frame pcm.Frame
	err   error
}

// fakeSource replays steps, then returns end. A nil end blocks until the
// context is done and closes drained first.
type fakeSource struct {
	steps   []step
	end     error
	drained chan struct{}

	i    int
	once sync.Once
}

func (s *fakeSource) Start(context.Context) error { return nil }
func (s *fakeSource) Close() error                { return nil }

func (s *fakeSource) Next(ctx context.Context) (pcm.Frame, error) {
	if s.i < len(s.steps) {
		st := s.steps[s.i]
		s.i++
		return st.frame, st.err
	}
	if s.end != nil {
		return pcm.Frame{}, s.end
	}
	s.once.Do(func() {
		if s.drained != nil {
			close(s.drained)
		}
	})
	<-ctx.Done()
	return pcm.Frame{}, ctx.Err()
}

// script builds frames of testFrame each. '.' is silence, '#' is a loud
// tone and 'W' is a loud tone the scorer rates as the wake word.
func script(pattern string) ([]step, map[time.Duration]bool) {
	format := pcm.Mono(16000)
	wakes := make(map[time.Duration]bool)
	var steps []step
	for i, c := range pattern {
		var f pcm.Frame
		if c == '.' {
			f = pcm.Silence(format, testFrame)
		} else {
			f = pcm.Tone(format, 440, 0.5, testFrame)
		}
		f.Seq = uint64(i)
		f.Timestamp = time.Duration(i) * testFrame
		if c == 'W' {
			wakes[f.Timestamp] = true
		}
		steps = append(steps, step{frame: f})
	}
	return steps, wakes
}

func wakeScorer(wakes map[time.Duration]bool) model.Scorer {
	return model.ScorerFunc(func(w mfcc.Window) (float64, error) {
		if wakes[w.Timestamp] {
			return 0.99, nil
		}
		return 0.05, nil
	})
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) HandleEvent(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) kinds() []EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EventKind
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (c *collector) only(kind EventKind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	ext, err := mfcc.New(mfcc.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if opts.Config.CaptureRate == 0 {
		opts.Config = testConfig()
	}
	opts.Extractor = ext
	opts.Lossless = true
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestPipelineWakeCommandTranscript(t *testing.T) {
	steps, wakes := script(".W##....")
	var (
		gotAudio transcribe.Audio
		calls    int
	)
	gw := transcribe.GatewayFunc(func(_ context.Context, a transcribe.Audio) (string, error) {
		calls++
		gotAudio = a
		return "turn on the lights", nil
	})
	sink := &collector{}
	p := newTestPipeline(t, Options{
		Source:  &fakeSource{steps: steps, end: io.EOF},
		Scorer:  wakeScorer(wakes),
		Gateway: gw,
		Sinks:   []Sink{sink},
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []EventKind{EventWake, EventCommand, EventTranscript}
	if got := sink.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	wake := sink.only(EventWake)[0]
	if wake.StreamTime != testFrame || wake.Score != 0.99 || wake.Count != 1 {
		t.Errorf("wake = %+v", wake)
	}
	cmd := sink.only(EventCommand)[0]
	if cmd.Duration != 2*time.Second || cmd.Reason != string(recorder.ReasonSilence) {
		t.Errorf("command duration=%v reason=%q, want 2s silence", cmd.Duration, cmd.Reason)
	}
	if cmd.StreamTime != 2*testFrame {
		t.Errorf("command starts at %v, want %v (frame after the wake)", cmd.StreamTime, 2*testFrame)
	}
	tr := sink.only(EventTranscript)[0]
	if tr.Text != "turn on the lights" || tr.CommandID != cmd.CommandID {
		t.Errorf("transcript = %+v", tr)
	}

	if calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", calls)
	}
	if gotAudio.Encoding != transcribe.EncodingWAV || gotAudio.SampleRate != 16000 {
		t.Errorf("audio encoding=%q rate=%d", gotAudio.Encoding, gotAudio.SampleRate)
	}
	decoded, err := wavfile.Decode(gotAudio.Data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Samples) != 32000 {
		t.Errorf("command samples = %d, want 32000", len(decoded.Samples))
	}

	st := p.Stats()
	if st.Captured != 8 || st.Wakes != 1 || st.Commands != 1 || st.Transcripts != 1 || st.GatewayErrors != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineNoWake(t *testing.T) {
	steps, _ := script("#.#.#.#.#.")
	sink := &collector{}
	p := newTestPipeline(t, Options{
		Source: &fakeSource{steps: steps, end: io.EOF},
		Scorer: wakeScorer(nil),
		Sinks:  []Sink{sink},
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := sink.kinds(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
	if st := p.Stats(); st.Wakes != 0 || st.Commands != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineGatewayFailure(t *testing.T) {
	steps, wakes := script(".W#..W#..")
	calls := 0
	gw := transcribe.GatewayFunc(func(context.Context, transcribe.Audio) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("%w: whisper: slow", transcribe.ErrTimeout)
		}
		return "hello", nil
	})
	sink := &collector{}
	p := newTestPipeline(t, Options{
		Source:  &fakeSource{steps: steps, end: io.EOF},
		Scorer:  wakeScorer(wakes),
		Gateway: gw,
		Sinks:   []Sink{sink},
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("gateway failure must not stop the pipeline: %v", err)
	}

	counts := map[EventKind]int{}
	for _, k := range sink.kinds() {
		counts[k]++
	}
	want := map[EventKind]int{EventWake: 2, EventCommand: 2, EventGatewayError: 1, EventTranscript: 1}
	if fmt.Sprint(counts) != fmt.Sprint(want) {
		t.Fatalf("event counts = %v, want %v", counts, want)
	}
	cmds := sink.only(EventCommand)
	fail := sink.only(EventGatewayError)[0]
	if fail.Status != "timeout" || fail.Error == "" || fail.CommandID != cmds[0].CommandID {
		t.Errorf("gateway_error = %+v", fail)
	}
	if tr := sink.only(EventTranscript)[0]; tr.CommandID != cmds[1].CommandID || tr.Text != "hello" {
		t.Errorf("transcript = %+v", tr)
	}
	if st := p.Stats(); st.GatewayErrors != 1 || st.Transcripts != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineShutdownFlush(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    []EventKind
	}{
		{"long enough", ".W##", []EventKind{EventWake, EventCommand}},
		{"too short", ".W", []EventKind{EventWake}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, wakes := script(tt.pattern)
			src := &fakeSource{steps: steps, drained: make(chan struct{})}
			sink := &collector{}
			p := newTestPipeline(t, Options{
				Source: src,
				Scorer: wakeScorer(wakes),
				Sinks:  []Sink{sink},
			})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- p.Run(ctx) }()

			select {
			case <-src.drained:
			case <-time.After(5 * time.Second):
				t.Fatal("source never drained")
			}
			waitProcessed(t, p, uint64(len(steps)))
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("Run after cancel: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not stop after cancel")
			}

			if got := sink.kinds(); fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
			if cmds := sink.only(EventCommand); len(cmds) == 1 {
				if cmds[0].Reason != string(recorder.ReasonShutdown) || cmds[0].Duration != time.Second {
					t.Errorf("command = %+v", cmds[0])
				}
			}
		})
	}
}

func TestPipelineCaptureErrors(t *testing.T) {
	t.Run("timeout continues", func(t *testing.T) {
		steps, _ := script("..")
		steps = []step{steps[0], {err: fmt.Errorf("%w: no frame", capture.ErrTimeout)}, steps[1]}
		sink := &collector{}
		p := newTestPipeline(t, Options{
			Source: &fakeSource{steps: steps, end: io.EOF},
			Scorer: wakeScorer(nil),
			Sinks:  []Sink{sink},
		})
		if err := p.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if st := p.Stats(); st.Timeouts != 1 || st.Captured != 2 {
			t.Errorf("stats = %+v", st)
		}
		timeouts := sink.only(EventTimeout)
		if len(timeouts) != 1 {
			t.Fatalf("timeout events = %d, want 1", len(timeouts))
		}
		if timeouts[0].StreamTime != testFrame {
			t.Errorf("timeout stream time = %v, want end of the last frame %v", timeouts[0].StreamTime, testFrame)
		}
	})

	t.Run("device failure is fatal", func(t *testing.T) {
		steps, _ := script("..")
		p := newTestPipeline(t, Options{
			Source: &fakeSource{steps: steps, end: fmt.Errorf("%w: unplugged", capture.ErrDevice)},
			Scorer: wakeScorer(nil),
		})
		err := p.Run(context.Background())
		if !errors.Is(err, capture.ErrDevice) {
			t.Fatalf("err = %v, want ErrDevice", err)
		}
	})
}

// waitProcessed waits until the consumer loop has handled n frames.
func waitProcessed(t *testing.T, p *Pipeline, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for p.Stats().Processed < n {
		if time.Now().After(deadline) {
			t.Fatalf("processed %d frames, want %d", p.Stats().Processed, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPipelineCancelSkipsQueuedFrames(t *testing.T) {
	steps, _ := script("....")
	src := &fakeSource{steps: steps, drained: make(chan struct{})}
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	scorer := model.ScorerFunc(func(mfcc.Window) (float64, error) {
		calls++
		if calls == 1 {
			close(entered)
			<-release
		}
		return 0.1, nil
	})
	p := newTestPipeline(t, Options{Source: src, Scorer: scorer})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for _, ch := range []chan struct{}{entered, src.drained} {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline stalled")
		}
	}
	cancel()
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if st := p.Stats(); st.Captured != 4 || st.Processed != 1 {
		t.Errorf("captured %d processed %d, want 4 and 1", st.Captured, st.Processed)
	}
}

func TestPipelineScoreErrorDropsFrame(t *testing.T) {
	steps, _ := script("...")
	bad := steps[1].frame.Timestamp
	scorer := model.ScorerFunc(func(w mfcc.Window) (float64, error) {
		if w.Timestamp == bad {
			return 0, errors.New("runtime hiccup")
		}
		return 0.1, nil
	})
	p := newTestPipeline(t, Options{
		Source: &fakeSource{steps: steps, end: io.EOF},
		Scorer: scorer,
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st := p.Stats(); st.ScoreErrors != 1 || st.Captured != 3 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipelineRunTwice(t *testing.T) {
	p := newTestPipeline(t, Options{
		Source: &fakeSource{end: io.EOF},
		Scorer: wakeScorer(nil),
	})
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: err = %v, want ErrAlreadyRunning", err)
	}
}

func TestNewRejectsRateSkew(t *testing.T) {
	ext, err := mfcc.New(mfcc.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig()
	cfg.ModelRate = 8000
	_, err = New(Options{Config: cfg, Source: &fakeSource{}, Extractor: ext, Scorer: wakeScorer(nil)})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestNewProbesArtifact(t *testing.T) {
	ext, err := mfcc.New(mfcc.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	a := &model.Artifact{Manifest: model.DefaultManifest("alfred", "1", "w.msgpack")}

	_, err = New(Options{Config: testConfig(), Source: &fakeSource{}, Extractor: ext, Scorer: wakeScorer(nil), Artifact: a})
	if err != nil {
		t.Fatalf("probe with a valid scorer: %v", err)
	}

	broken := model.ScorerFunc(func(mfcc.Window) (float64, error) { return 1.5, nil })
	_, err = New(Options{Config: testConfig(), Source: &fakeSource{}, Extractor: ext, Scorer: broken, Artifact: a})
	if !errors.Is(err, model.ErrLoad) {
		t.Errorf("probe with out-of-range score: err = %v, want ErrLoad", err)
	}
}
