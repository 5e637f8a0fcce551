package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/wakeword/cmd/wakeword/internal/build"
	"github.com/haivivi/wakeword/pkg/archive"
	"github.com/haivivi/wakeword/pkg/audio/capture"
	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/miniaudio"
	"github.com/haivivi/wakeword/pkg/audio/portaudio"
	"github.com/haivivi/wakeword/pkg/audio/wavfile"
	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/eventfeed"
	"github.com/haivivi/wakeword/pkg/journal"
	"github.com/haivivi/wakeword/pkg/metrics"
	"github.com/haivivi/wakeword/pkg/model"
	"github.com/haivivi/wakeword/pkg/transcribe"
	"github.com/haivivi/wakeword/pkg/wakeword"
)

var (
	runThreshold    float64
	runTriggerLevel int
	runDevice       int
	runModel        string
	runBackend      string
	runGateway      string
	runCapture      string
	runInput        string
	runRealtime     bool
	runListen       string
	runQuiet        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for the wake word and capture commands",
	Long: `Open the capture device, detect the wake word and record the command
that follows until the speaker stops talking. Each finalized command is
archived (archive.kind), transcribed (gateway.kind) and published as
events to the journal and the event feed.

Wake events and transcripts are printed to stdout; logs go to stderr.
Ctrl-C stops listening; a command being recorded is finalized first
when it is long enough.

Examples:
  wakeword run
  wakeword run --device 2 --threshold 0.95 --trigger-level 2
  wakeword run --input session.wav --gateway none
  wakeword run --listen :8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, paths, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunFlags(cmd, &cfg, paths)
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return listen(ctx, cmd, cfg)
	},
}

func applyRunFlags(cmd *cobra.Command, cfg *wakeword.Config, paths *cli.Paths) {
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		cfg.Threshold = runThreshold
	}
	if flags.Changed("trigger-level") {
		cfg.TriggerLevel = runTriggerLevel
	}
	if flags.Changed("device") {
		cfg.DeviceIndex = runDevice
	}
	if runModel != "" {
		cfg.Model.Path = paths.Resolve(runModel)
	}
	if runBackend != "" {
		cfg.Model.Backend = runBackend
	}
	if runGateway != "" {
		cfg.Gateway.Kind = runGateway
	}
	if runInput != "" {
		cfg.Input = runInput
		cfg.CaptureBackend = wakeword.CaptureFile
	}
	if runCapture != "" {
		cfg.CaptureBackend = runCapture
	}
	if flags.Changed("realtime") {
		cfg.Realtime = runRealtime
	}
	if runListen != "" {
		cfg.Listen = runListen
	}
}

// listen assembles the pipeline and its collaborators from cfg and runs
// it until ctx is done or the input ends.
func listen(ctx context.Context, cmd *cobra.Command, cfg wakeword.Config) error {
	logger := slog.Default()

	artifact, err := model.Load(cfg.Model.Path)
	if err != nil {
		return err
	}
	ext, err := mfcc.New(artifact.FeatureConfig())
	if err != nil {
		return err
	}
	scorer, err := model.Open(artifact, cfg.Model.Backend)
	if err != nil {
		return err
	}
	defer scorer.Close()

	opener, release, err := captureOpener(cfg)
	if err != nil {
		return err
	}
	defer release()
	src, err := capture.NewSource(cfg.CaptureConfig(), opener, logger)
	if err != nil {
		return err
	}

	gateway, err := newGateway(ctx, cfg)
	if err != nil {
		return err
	}
	archiver, err := newArchiver(cfg)
	if err != nil {
		return err
	}

	prov, err := metrics.NewProvider(build.Version)
	if err != nil {
		return err
	}
	defer prov.Shutdown(context.WithoutCancel(ctx))

	sinks := []wakeword.Sink{consoleSink(cmd.OutOrStdout(), runQuiet)}
	if cfg.Journal.Dir != "" {
		j, err := journal.Open(journal.Options{Dir: cfg.Journal.Dir, Logger: logger})
		if err != nil {
			return err
		}
		defer j.Close()
		sinks = append(sinks, j)
	}
	var server *eventfeed.Server
	if cfg.Listen != "" {
		hub := eventfeed.NewHub(logger)
		sinks = append(sinks, hub)
		server = eventfeed.NewServer(cfg.Listen, hub, prov.Handler, logger)
	}

	p, err := wakeword.New(wakeword.Options{
		Config:    cfg,
		Source:    src,
		Extractor: ext,
		Scorer:    scorer,
		Artifact:  artifact,
		Gateway:   gateway,
		Archiver:  archiver,
		Sinks:     sinks,
		Lossless:  cfg.CaptureBackend == wakeword.CaptureFile && !cfg.Realtime,
		Metrics:   prov.Metrics,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.ErrOrStderr(), banner(cfg, artifact))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// End of input stops the event feed as well.
		defer cancel()
		return p.Run(gctx)
	})
	if server != nil {
		g.Go(func() error { return server.Run(gctx) })
	}
	err = g.Wait()

	st := p.Stats()
	logger.Info("stopped",
		"captured", st.Captured, "dropped", st.Dropped, "timeouts", st.Timeouts,
		"wakes", st.Wakes, "commands", st.Commands, "transcripts", st.Transcripts,
		"gateway_errors", st.GatewayErrors)
	return err
}

// captureOpener returns the device opener for the configured backend and
// a release function for library-wide state.
func captureOpener(cfg wakeword.Config) (capture.Opener, func(), error) {
	switch cfg.CaptureBackend {
	case wakeword.CapturePortAudio:
		if err := portaudio.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("%w: portaudio: %w", capture.ErrDevice, err)
		}
		return portaudio.Opener, func() { portaudio.Terminate() }, nil
	case wakeword.CaptureMiniaudio:
		return miniaudio.Opener, func() {}, nil
	case wakeword.CaptureFile:
		return wavfile.Opener(cfg.Input, cfg.Realtime), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown capture backend %q", wakeword.ErrInvalidConfig, cfg.CaptureBackend)
	}
}

// newGateway builds the configured transcription client wrapped in a
// circuit breaker. Kind "none" returns nil.
func newGateway(ctx context.Context, cfg wakeword.Config) (transcribe.Gateway, error) {
	gc := cfg.Gateway
	var gw transcribe.Gateway
	switch gc.Kind {
	case transcribe.KindNone:
		return nil, nil
	case transcribe.KindWhisper:
		url := gc.URL
		if url == "" {
			url = transcribe.DefaultWhisperURL
		}
		w, err := transcribe.NewWhisper(url,
			transcribe.WithLanguage(gc.Language),
			transcribe.WithTimeout(cfg.GatewayTimeout()))
		if err != nil {
			return nil, err
		}
		gw = w
	case transcribe.KindOpenAI:
		gw = transcribe.NewOpenAI(transcribe.OpenAIConfig{
			APIKey:   envOr(gc.APIKey, "OPENAI_API_KEY"),
			BaseURL:  gc.URL,
			Model:    gc.Model,
			Language: gc.Language,
			Timeout:  cfg.GatewayTimeout(),
		})
	case transcribe.KindGemini:
		g, err := transcribe.NewGemini(ctx, transcribe.GeminiConfig{
			APIKey:   envOr(gc.APIKey, "GEMINI_API_KEY"),
			BaseURL:  gc.URL,
			Model:    gc.Model,
			Language: gc.Language,
		})
		if err != nil {
			return nil, err
		}
		gw = g
	default:
		return nil, fmt.Errorf("%w: unknown gateway kind %q", wakeword.ErrInvalidConfig, gc.Kind)
	}
	if gc.Breaker.MaxFailures > 0 {
		gw = transcribe.NewBreaker(gw, cfg.BreakerConfig())
	}
	return gw, nil
}

func newArchiver(cfg wakeword.Config) (wakeword.Archiver, error) {
	ac := cfg.Archive
	switch ac.Kind {
	case wakeword.ArchiveLocal:
		return archive.NewLocal(ac.Dir)
	case wakeword.ArchiveS3:
		client := archive.NewS3Client(archive.S3Config{Region: ac.Region, Endpoint: ac.Endpoint})
		return archive.NewS3(client, ac.Bucket, ac.Prefix), nil
	default:
		return nil, nil
	}
}

func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

// consoleSink prints wake events and transcripts for the person at the
// terminal.
func consoleSink(w io.Writer, quiet bool) wakeword.Sink {
	st := styles()
	return wakeword.SinkFunc(func(_ context.Context, ev wakeword.Event) error {
		if quiet {
			return nil
		}
		var line string
		switch ev.Kind {
		case wakeword.EventWake:
			line = st.Pass.Render("wake") + fmt.Sprintf(" at %s score=%.4f", cli.FormatDuration(ev.StreamTime), ev.Score)
		case wakeword.EventCommand:
			line = st.Label.Render("command") + fmt.Sprintf(" %s (%s)", cli.FormatDuration(ev.Duration), ev.Reason)
		case wakeword.EventTranscript:
			line = st.Label.Render("heard") + fmt.Sprintf(" %q", ev.Text)
		case wakeword.EventGatewayError:
			line = st.Fail.Render("no transcription") + " " + ev.Status
		default:
			return nil
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}

func banner(cfg wakeword.Config, a *model.Artifact) string {
	source := fmt.Sprintf("%s device %d", cfg.CaptureBackend, cfg.DeviceIndex)
	if cfg.CaptureBackend == wakeword.CaptureFile {
		source = "file " + cfg.Input
	}
	detect := []string{
		fmt.Sprintf("model      %s (%s)", a, cfg.Model.Backend),
		fmt.Sprintf("threshold  %.2f x %d", cfg.Threshold, cfg.TriggerLevel),
		fmt.Sprintf("frame      %s", cli.FormatDuration(cfg.FrameDuration())),
	}
	capt := []string{
		fmt.Sprintf("source     %s", source),
		fmt.Sprintf("rate       %s -> %s", cli.FormatRate(cfg.CaptureRate), cli.FormatRate(cfg.ModelRate)),
		fmt.Sprintf("silence    %.3f for %s", cfg.SilenceThreshold, cli.FormatDuration(cfg.SilenceDuration())),
	}
	out := []string{fmt.Sprintf("gateway    %s", cfg.Gateway.Kind)}
	if cfg.Archive.Kind != wakeword.ArchiveNone {
		out = append(out, fmt.Sprintf("archive    %s", cfg.Archive.Kind))
	}
	if cfg.Journal.Dir != "" {
		out = append(out, fmt.Sprintf("journal    %s", cfg.Journal.Dir))
	}
	if cfg.Listen != "" {
		out = append(out, fmt.Sprintf("listen     %s", cfg.Listen))
	}
	return cli.Frame{
		Styles:   styles(),
		Title:    "wakeword",
		Status:   build.Version,
		Sections: []cli.Section{{Label: "Detect", Lines: detect}, {Label: "Capture", Lines: capt}, {Label: "Output", Lines: out}},
		Help:     "Ctrl-C to stop",
	}.Render(60)
}

func init() {
	f := runCmd.Flags()
	f.Float64Var(&runThreshold, "threshold", 0, "qualifying score (default from config)")
	f.IntVar(&runTriggerLevel, "trigger-level", 0, "consecutive qualifying windows (default from config)")
	f.IntVar(&runDevice, "device", capture.DefaultDevice, "capture device index, see 'wakeword devices'")
	f.StringVar(&runModel, "model", "", "model manifest path")
	f.StringVar(&runBackend, "backend", "", "model backend: native, onnx or ncnn")
	f.StringVar(&runGateway, "gateway", "", "transcription gateway: whisper, openai, gemini or none")
	f.StringVar(&runCapture, "capture", "", "capture backend: portaudio, miniaudio or file")
	f.StringVarP(&runInput, "input", "i", "", "replay a WAV file instead of a device")
	f.BoolVar(&runRealtime, "realtime", false, "pace --input replay at real time")
	f.StringVar(&runListen, "listen", "", "serve /events and /metrics on this address")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "do not print events to stdout")

	rootCmd.AddCommand(runCmd)
}
