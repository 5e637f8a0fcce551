package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultBaseDir is the directory under $HOME holding config, models,
	// the journal and archived commands.
	DefaultBaseDir = ".wakeword"
	// DefaultConfigFile is the config file name inside the base directory.
	DefaultConfigFile = "config.yaml"
	// HomeEnv overrides the base directory.
	HomeEnv = "WAKEWORD_HOME"
)

// Paths provides access to the wakeword directory structure
type Paths struct {
	// HomeDir is the user's home directory
	HomeDir string

	// Base overrides BaseDir when set
	Base string
}

// NewPaths creates a Paths for the current user, honoring $WAKEWORD_HOME.
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cli: home directory: %w", err)
	}
	return &Paths{HomeDir: home, Base: os.Getenv(HomeEnv)}, nil
}

// BaseDir returns the base directory (~/.wakeword)
func (p *Paths) BaseDir() string {
	if p.Base != "" {
		return p.Base
	}
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns the config file path (~/.wakeword/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// ModelsDir returns the model directory (~/.wakeword/models)
func (p *Paths) ModelsDir() string {
	return filepath.Join(p.BaseDir(), "models")
}

// JournalDir returns the default journal directory (~/.wakeword/journal)
func (p *Paths) JournalDir() string {
	return filepath.Join(p.BaseDir(), "journal")
}

// ArchiveDir returns the default local archive (~/.wakeword/commands)
func (p *Paths) ArchiveDir() string {
	return filepath.Join(p.BaseDir(), "commands")
}

// Resolve expands a leading ~/ to the home directory and makes relative
// paths relative to the base directory. Empty stays empty.
func (p *Paths) Resolve(path string) string {
	switch {
	case path == "":
		return ""
	case path == "~":
		return p.HomeDir
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(p.HomeDir, path[2:])
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(p.BaseDir(), path)
	}
}

// EnsureBaseDir creates the base directory if it doesn't exist
func (p *Paths) EnsureBaseDir() error {
	return os.MkdirAll(p.BaseDir(), 0o755)
}

// WriteFile writes data to path, creating parent directories. An existing
// file is only replaced when force is set.
func WriteFile(path string, data []byte, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("cli: %s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	return nil
}
