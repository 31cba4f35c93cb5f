package app

import "errors"

// Config holds everything an App instance needs to run.
type Config struct {
	// ManifestPath points at the assembly manifest to load and inspect.
	ManifestPath string

	LogFormat string
	LogLevel  string
}

// NewConfig validates a config, returning it on success.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ManifestPath == "" {
		return nil, errors.New("ManifestPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
