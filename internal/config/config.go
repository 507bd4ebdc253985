// Package config loads the lsptrace tool configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ServerConfig describes the language server to spawn.
type ServerConfig struct {
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	// RootPath overrides workspace detection when set.
	RootPath string `toml:"rootPath"`
	// RequestTimeoutSec caps request round trips. 0 keeps the default.
	RequestTimeoutSec int `toml:"requestTimeoutSec"`
}

// TraceConfig controls where observed wire traffic goes.
type TraceConfig struct {
	// DBPath enables SQLite trace recording when set.
	DBPath string `toml:"dbPath"`
	// Pretty reformats JSON bodies for terminal output.
	Pretty bool `toml:"pretty"`
	// CaptureStderr retains server stderr for the final report.
	CaptureStderr bool `toml:"captureStderr"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level    string `toml:"level"`
	FilePath string `toml:"filePath"`
}

// Config aggregates the tool configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Trace   TraceConfig   `toml:"trace"`
	Logging LoggingConfig `toml:"logging"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Server.Command == "" {
		return fmt.Errorf("server.command required")
	}
	if cfg.Server.RequestTimeoutSec < 0 {
		return fmt.Errorf("server.requestTimeoutSec must not be negative")
	}
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q not one of debug, info, warn, error", cfg.Logging.Level)
	}
	return nil
}
