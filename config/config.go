// Package config loads the preview panel's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default values applied before the file and flags are read.
const (
	DefaultEndpoint  = "ws://127.0.0.1:9222/devtools/page"
	DefaultStartURL  = "about:blank"
	DefaultFormat    = "jpeg"
	DefaultMaxWidth  = 1280
	DefaultMaxHeight = 800
)

// ViewportConfig sets the emulated device metrics applied at startup.
type ViewportConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Scale  float64 `yaml:"scale"`
}

// ScreencastConfig sets the frame stream's encoding and bounds.
type ScreencastConfig struct {
	Format    string `yaml:"format"`
	MaxWidth  int    `yaml:"maxWidth"`
	MaxHeight int    `yaml:"maxHeight"`
}

// Config is the complete panel configuration.
type Config struct {
	// Endpoint is the WebSocket debugger URL of the page target.
	Endpoint string `yaml:"endpoint"`

	// StartURL is navigated to once the connection is up.
	StartURL string `yaml:"startUrl"`

	// Verbose mirrors raw wire traffic to the log.
	Verbose bool `yaml:"verbose"`

	Viewport   ViewportConfig   `yaml:"viewport"`
	Screencast ScreencastConfig `yaml:"screencast"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		StartURL: DefaultStartURL,
		Viewport: ViewportConfig{
			Width:  DefaultMaxWidth,
			Height: DefaultMaxHeight,
			Scale:  1,
		},
		Screencast: ScreencastConfig{
			Format:    DefaultFormat,
			MaxWidth:  DefaultMaxWidth,
			MaxHeight: DefaultMaxHeight,
		},
	}
}

// Load reads a YAML file on top of the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
