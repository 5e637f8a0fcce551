package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/model"
)

const (
	manifestFile = "wakeword.yaml"
	weightsFile  = "wakeword.msgpack"
)

var (
	modelName  string
	modelVer   string
	modelSeed  uint64
	modelForce bool
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Create and inspect model artifacts",
}

var modelInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a reference artifact with random native weights",
	Long: `Write a manifest and a native msgpack weight file for the reference
network into dir (default ~/.wakeword/models). The weights are random:
the artifact exercises the pipeline end to end but does not detect a
real phrase until trained weights replace it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			paths, err := cli.NewPaths()
			if err != nil {
				return err
			}
			dir = paths.ModelsDir()
		}
		manifest := filepath.Join(dir, manifestFile)
		if !modelForce {
			if _, err := os.Stat(manifest); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", manifest)
			}
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		w := model.RandomWeights(model.DefaultArchitecture(), modelSeed, 0.2)
		if err := model.SaveWeights(filepath.Join(dir, weightsFile), w); err != nil {
			return err
		}
		if err := model.WriteManifest(manifest, model.DefaultManifest(modelName, modelVer, weightsFile)); err != nil {
			return err
		}
		printLine(cmd, "wrote "+manifest)
		return nil
	},
}

var modelInfoCmd = &cobra.Command{
	Use:   "info [manifest]",
	Short: "Print a model manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadArtifact(args)
		if err != nil {
			return err
		}
		return output(cmd, a.Manifest, nil)
	},
}

// loadArtifact loads the manifest named by args, or the configured one.
func loadArtifact(args []string) (*model.Artifact, error) {
	if len(args) == 1 {
		return model.Load(args[0])
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return model.Load(cfg.Model.Path)
}

func init() {
	modelInitCmd.Flags().StringVar(&modelName, "name", "wakeword", "model name")
	modelInitCmd.Flags().StringVar(&modelVer, "version", "0", "model version")
	modelInitCmd.Flags().Uint64Var(&modelSeed, "seed", 1, "random seed for the weights")
	modelInitCmd.Flags().BoolVar(&modelForce, "force", false, "overwrite an existing artifact")

	modelCmd.AddCommand(modelInitCmd)
	modelCmd.AddCommand(modelInfoCmd)
	rootCmd.AddCommand(modelCmd)
}
