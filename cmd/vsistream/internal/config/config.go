// Package config provides the configuration file of the vsistream CLI.
//
// The file is config.yaml under the configuration directory (see
// cli.DefaultPaths). Every field is optional; missing fields take the
// defaults of Default. Command flags override file values.
//
//	sink:
//	  kind: display
//	video:
//	  width: 192
//	  height: 192
//	  color: rgb888
//	  fps: 30
//	sensor:
//	  rate: 100
//	  samples: 4
//	history:
//	  enabled: true
//	  ttl: 720h
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/vsi-examples/vsistream/pkg/app"
	"github.com/vsi-examples/vsistream/pkg/cli"
)

// Sink selects where frames go.
type Sink struct {
	Kind     string `yaml:"kind" json:"kind"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	PerFrame bool   `yaml:"per_frame,omitempty" json:"per_frame,omitempty"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

// Video configures `video run`.
type Video struct {
	Width       int    `yaml:"width" json:"width"`
	Height      int    `yaml:"height" json:"height"`
	Color       string `yaml:"color" json:"color"`
	FPS         int    `yaml:"fps" json:"fps"`
	Source      string `yaml:"source,omitempty" json:"source,omitempty"`
	Mode        string `yaml:"mode" json:"mode"`
	Blocks      int    `yaml:"blocks" json:"blocks"`
	X           int    `yaml:"x" json:"x"`
	Y           int    `yaml:"y" json:"y"`
	Scale       int    `yaml:"scale" json:"scale"`
	Frames      int    `yaml:"frames,omitempty" json:"frames,omitempty"`
	Event       bool   `yaml:"event,omitempty" json:"event,omitempty"`
	Passthrough bool   `yaml:"passthrough,omitempty" json:"passthrough,omitempty"`
	Output      string `yaml:"output,omitempty" json:"output,omitempty"`
	Sink        *Sink  `yaml:"sink,omitempty" json:"sink,omitempty"`
}

// Sensor configures `sensor run`.
type Sensor struct {
	Source   string `yaml:"source,omitempty" json:"source,omitempty"`
	Channels int    `yaml:"channels" json:"channels"`
	Bits     int    `yaml:"bits" json:"bits"`
	Rate     int    `yaml:"rate" json:"rate"`
	Samples  int    `yaml:"samples" json:"samples"`
	Blocks   int    `yaml:"blocks" json:"blocks"`
	Gated    bool   `yaml:"gated,omitempty" json:"gated,omitempty"`
	Event    bool   `yaml:"event,omitempty" json:"event,omitempty"`
	Count    int    `yaml:"count,omitempty" json:"count,omitempty"`
	Sink     *Sink  `yaml:"sink,omitempty" json:"sink,omitempty"`
}

// History configures the run history.
type History struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TTL expires records, e.g. "720h". Empty keeps them.
	TTL string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Config is the content of config.yaml.
type Config struct {
	LogLevel string  `yaml:"log_level" json:"log_level"`
	Sink     Sink    `yaml:"sink" json:"sink"`
	Video    Video   `yaml:"video" json:"video"`
	Sensor   Sensor  `yaml:"sensor" json:"sensor"`
	History  History `yaml:"history" json:"history"`

	// Dir is the configuration directory the file was loaded from.
	Dir string `yaml:"-" json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Sink:     Sink{Kind: "display"},
		Video: Video{
			Width:  app.DefaultWidth,
			Height: app.DefaultHeight,
			Color:  "rgb888",
			FPS:    app.DefaultFrameRate,
			Mode:   "continuous",
			Blocks: app.DefaultBlocks,
			X:      app.DefaultX,
			Y:      app.DefaultY,
			Scale:  1,
		},
		Sensor: Sensor{
			Channels: 1,
			Bits:     8,
			Rate:     app.DefaultSampleRate,
			Samples:  app.DefaultNumSamples,
			Blocks:   app.DefaultSensorBlocks,
		},
		History: History{Enabled: true},
	}
}

// Load reads config.yaml from the default configuration directory.
func Load() (*Config, error) {
	p, err := cli.DefaultPaths()
	if err != nil {
		return nil, err
	}
	return LoadFrom(p.Dir)
}

// LoadFrom reads config.yaml from dir. A missing file yields Default.
func LoadFrom(dir string) (*Config, error) {
	cfg := Default()
	cfg.Dir = dir
	p := cli.Paths{Dir: dir}
	data, err := os.ReadFile(p.ConfigFile())
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.ConfigFile(), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.ConfigFile(), err)
	}
	return cfg, nil
}

// Paths returns the paths under the configuration directory.
func (c *Config) Paths() *cli.Paths { return &cli.Paths{Dir: c.Dir} }

// Save writes the configuration to config.yaml in its directory.
func (c *Config) Save() error {
	p := c.Paths()
	if err := p.Ensure(); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(p.ConfigFile(), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", p.ConfigFile(), err)
	}
	return nil
}

// Exists reports whether config.yaml exists.
func (c *Config) Exists() bool {
	_, err := os.Stat(c.Paths().ConfigFile())
	return err == nil
}

// HistoryTTL parses History.TTL.
func (c *Config) HistoryTTL() (time.Duration, error) {
	if c.History.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.History.TTL)
	if err != nil {
		return 0, fmt.Errorf("history ttl %q: %w", c.History.TTL, err)
	}
	return d, nil
}
