// Package cli provides the shared pieces of the wakeword command line.
//
// This package includes:
//   - The ~/.wakeword directory layout ([Paths])
//   - Output formatting (YAML, JSON, raw)
//   - Human-readable durations and sizes
//   - lipgloss styles, tables and the startup banner
//
// Example usage:
//
//	paths, err := cli.NewPaths()
//	cfg, err := wakeword.LoadConfig(paths.ConfigFile(), true)
//	cfg.Model.Path = paths.Resolve(cfg.Model.Path)
//
//	cli.Output(cfg, cli.OutputOptions{Format: cli.FormatYAML})
package cli
