package commands

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/spf13/cobra"

	"github.com/haivivi/wakeword/pkg/cli"
	"github.com/haivivi/wakeword/pkg/wakeword"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, initialize or describe the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and the config file are merged
and relative paths are resolved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		return output(cmd, cfg, nil)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Long: `Write the built-in defaults as YAML to path, or to the default config
file when no path is given. An existing file is kept unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := cli.NewPaths()
		if err != nil {
			return err
		}
		path := paths.ConfigFile()
		if len(args) == 1 {
			path = args[0]
		}
		data, err := wakeword.DefaultConfig().Marshal()
		if err != nil {
			return err
		}
		if err := cli.WriteFile(path, data, configForce); err != nil {
			return err
		}
		printLine(cmd, "wrote "+path)
		return nil
	},
}

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := configSchema()
		if err != nil {
			return err
		}
		if outputFormat != "" {
			return output(cmd, schema, nil)
		}
		return cli.Output(schema, cli.OutputOptions{Format: cli.FormatJSON, Writer: cmd.OutOrStdout()})
	},
}

func configSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[wakeword.Config](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}
	schema.Title = "wakeword configuration"
	return schema, nil
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSchemaCmd)
	rootCmd.AddCommand(configCmd)
}
