// Package main is the entry point for the wakeword CLI.
//
// Usage:
//
//	wakeword [flags] <command> [subcommand] [args]
//
// Commands:
//
//	run       - Listen for the wake word and capture commands
//	devices   - List capture devices
//	score     - Score WAV files against the model
//	probe     - Check a model artifact against the feature front-end
//	model     - Create model artifacts
//	events    - Query the event journal
//	config    - Show, initialize or describe the configuration
//	version   - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/wakeword/cmd/wakeword/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
