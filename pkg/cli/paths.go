package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the configuration directory.
const ConfigDirEnv = "VSISTREAM_CONFIG_DIR"

const (
	appDir     = "vsistream"
	configFile = "config.yaml"
	runsDir    = "runs"
	outputDir  = "out"
)

// Paths locates the files of the vsistream commands.
type Paths struct {
	// Dir is the configuration root.
	Dir string
}

// DefaultPaths returns $VSISTREAM_CONFIG_DIR, or vsistream under the user
// configuration directory.
func DefaultPaths() (*Paths, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return &Paths{Dir: dir}, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine config directory: %w", err)
	}
	return &Paths{Dir: filepath.Join(base, appDir)}, nil
}

// ConfigFile returns the configuration file path.
func (p *Paths) ConfigFile() string { return filepath.Join(p.Dir, configFile) }

// RunsDir returns the run history database directory.
func (p *Paths) RunsDir() string { return filepath.Join(p.Dir, runsDir) }

// OutputDir returns the default directory for recordings and snapshots.
func (p *Paths) OutputDir() string { return filepath.Join(p.Dir, outputDir) }

// Ensure creates the configuration root.
func (p *Paths) Ensure() error { return os.MkdirAll(p.Dir, 0o755) }
