package commands

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/wakeword"
)

var (
	// Global flags
	verbose      bool
	logFormat    string
	configFile   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "wakeword",
	Short: "Wake-word detection and voice command capture",
	Long: `wakeword - listens to a microphone, detects a trigger phrase and
captures the voice command that follows for transcription.

Configuration is read from ~/.wakeword/config.yaml ($WAKEWORD_HOME
overrides the directory). Relative paths in the file, such as the model
manifest, are resolved against that directory.

Examples:
  # Write the default configuration and a reference model
  wakeword config init
  wakeword model init

  # List capture devices and listen on one of them
  wakeword devices
  wakeword run --device 2

  # Replay a recording through the live pipeline
  wakeword run --input session.wav

  # Score recordings offline
  wakeword score positive/*.wav`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ~/.wakeword/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "", "output format: table, yaml, json or raw")
}

func initConfig() {
	slog.SetDefault(newLogger(rootCmd.ErrOrStderr()))
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads the configuration file and resolves its relative
// paths. The default file may be missing; an explicit --config may not.
func loadConfig() (wakeword.Config, *cli.Paths, error) {
	paths, err := cli.NewPaths()
	if err != nil {
		return wakeword.Config{}, nil, err
	}
	path, missingOK := configFile, false
	if path == "" {
		path, missingOK = paths.ConfigFile(), true
	}
	cfg, err := wakeword.LoadConfig(path, missingOK)
	if err != nil {
		return wakeword.Config{}, nil, err
	}
	resolvePaths(&cfg, paths)
	return cfg, paths, nil
}

func resolvePaths(cfg *wakeword.Config, paths *cli.Paths) {
	cfg.Model.Path = paths.Resolve(cfg.Model.Path)
	cfg.Journal.Dir = paths.Resolve(cfg.Journal.Dir)
	cfg.Archive.Dir = paths.Resolve(cfg.Archive.Dir)
}

// output writes v in the --format format. Commands that have a table
// view pass it; without --format the table is printed, and a table
// request for a command without one falls back to YAML.
func output(cmd *cobra.Command, v any, table *cli.Table) error {
	format := cli.FormatTable
	if outputFormat != "" {
		f, err := cli.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		format = f
	}
	if format == cli.FormatTable {
		if table != nil {
			printLine(cmd, table.Render())
			return nil
		}
		format = cli.FormatYAML
	}
	return cli.Output(v, cli.OutputOptions{Format: format, Writer: cmd.OutOrStdout()})
}

func styles() cli.Styles {
	return cli.NewStyles(cli.DefaultTheme)
}

func printLine(cmd *cobra.Command, a ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), a...)
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}
