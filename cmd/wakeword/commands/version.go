package commands

import (
	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/cmd/wakeword/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "" {
			return output(cmd, build.Get(), nil)
		}
		printLine(cmd, build.String())
		if IsVerbose() {
			info := build.Get()
			printLine(cmd, "  go:     "+info.Go)
			if _, paths, err := loadConfig(); err == nil {
				printLine(cmd, "  config: "+paths.ConfigFile())
			} else {
				printLine(cmd, "  config: (unavailable: "+err.Error()+")")
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
