package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/audio/mfcc"
	"github.com/haivivi/wakeword/pkg/model"
)

var probeBackend string

// ProbeResult is what probe reports for a passing artifact.
type ProbeResult struct {
	Artifact     string        `json:"artifact" yaml:"artifact"`
	Backend      string        `json:"backend" yaml:"backend"`
	Shape        string        `json:"shape" yaml:"shape"`
	CaptureRate  int           `json:"capture_rate" yaml:"capture_rate"`
	ModelRate    int           `json:"model_rate" yaml:"model_rate"`
	SilenceScore float64       `json:"silence_score" yaml:"silence_score"`
	Took         time.Duration `json:"took_ns" yaml:"took"`
}

var probeCmd = &cobra.Command{
	Use:   "probe [manifest]",
	Short: "Check a model artifact against the feature front-end",
	Long: `Load the artifact, open the selected backend and push one silent frame
through resampling, feature extraction and scoring, exactly as run does
before it starts listening. A shape or version disagreement is reported
here instead of at startup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := loadArtifact(args)
		if err != nil {
			return err
		}
		backend := cfg.Model.Backend
		if probeBackend != "" {
			backend = probeBackend
		}

		ext, err := mfcc.New(a.FeatureConfig())
		if err != nil {
			return err
		}
		if err := a.Check(ext.Config()); err != nil {
			return err
		}
		s, err := model.Open(a, backend)
		if err != nil {
			return err
		}
		defer s.Close()

		start := time.Now()
		score, err := model.Probe(a, ext, s, cfg.CaptureRate, cfg.FrameDuration())
		if err != nil {
			return err
		}
		return output(cmd, ProbeResult{
			Artifact:     a.String(),
			Backend:      backend,
			Shape:        a.InputShape.String(),
			CaptureRate:  cfg.CaptureRate,
			ModelRate:    ext.Config().SampleRate,
			SilenceScore: score,
			Took:         time.Since(start),
		}, nil)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeBackend, "backend", "", fmt.Sprintf("model backend %v (default from config)", model.ListBackends()))
	rootCmd.AddCommand(probeCmd)
}
