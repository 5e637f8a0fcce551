package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/audio/pcm"
	"github.com/haivivi/wakeword/pkg/audio/resampler"
	"github.com/haivivi/wakeword/pkg/audio/wavfile"
	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/model"
)

var (
	scoreThreshold float64
	scoreBackend   string
)

// ScoreResult is the outcome for one file.
type ScoreResult struct {
	File     string        `json:"file" yaml:"file"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Score    float64       `json:"score" yaml:"score"`
	Wake     bool          `json:"wake" yaml:"wake"`
}

var scoreCmd = &cobra.Command{
	Use:   "score <file.wav>...",
	Short: "Score WAV files against the model",
	Long: `Score the first frame of each WAV file. The audio is downmixed to mono,
resampled to the model rate and cut or padded to one frame duration,
then scored once. A file counts as a wake when its score reaches the
threshold.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("threshold") {
			cfg.Threshold = scoreThreshold
		}
		if scoreBackend != "" {
			cfg.Model.Backend = scoreBackend
		}

		a, err := model.Load(cfg.Model.Path)
		if err != nil {
			return err
		}
		ext, err := mfcc.New(a.FeatureConfig())
		if err != nil {
			return err
		}
		s, err := model.Open(a, cfg.Model.Backend)
		if err != nil {
			return err
		}
		defer s.Close()

		results := make([]ScoreResult, 0, len(args))
		for _, path := range args {
			r, err := scoreFile(path, ext, s, cfg.FrameDuration())
			if err != nil {
				return err
			}
			r.Wake = r.Score >= cfg.Threshold
			results = append(results, r)
		}
		return output(cmd, results, scoreTable(results))
	},
}

func scoreFile(path string, ext *mfcc.Extractor, s model.Scorer, d time.Duration) (ScoreResult, error) {
	a, err := wavfile.ReadFile(path)
	if err != nil {
		return ScoreResult{}, err
	}
	mono := a.Mono()
	rate := ext.Config().SampleRate
	samples, err := resampler.Resample(mono.Samples, mono.Format.SampleRate, rate)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%s: %w", path, err)
	}
	if n := pcm.Mono(rate).SamplesInDuration(d); len(samples) > n {
		samples = samples[:n]
	}
	score, err := s.Score(ext.Extract(samples))
	if err != nil {
		return ScoreResult{}, fmt.Errorf("%s: %w", path, err)
	}
	return ScoreResult{
		File:     path,
		Duration: mono.Format.Duration(len(mono.Samples)),
		Score:    score,
	}, nil
}

func scoreTable(results []ScoreResult) *cli.Table {
	st := styles()
	t := &cli.Table{Styles: st, Headers: []string{"FILE", "DURATION", "SCORE", "WAKE"}}
	for _, r := range results {
		wake := st.Fail.Render("no")
		if r.Wake {
			wake = st.Pass.Render("yes")
		}
		t.Rows = append(t.Rows, []string{
			r.File,
			cli.FormatDuration(r.Duration),
			fmt.Sprintf("%.4f", r.Score),
			wake,
		})
	}
	return t
}

func init() {
	scoreCmd.Flags().Float64Var(&scoreThreshold, "threshold", 0, "wake threshold (default from config)")
	scoreCmd.Flags().StringVar(&scoreBackend, "backend", "", "model backend (default from config)")
	rootCmd.AddCommand(scoreCmd)
}
