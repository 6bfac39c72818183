// Package config loads repc settings from a YAML file.
//
// Settings are plain values handed to constructors; nothing here is
// global. A missing file is not an error for callers that pass an empty
// path: they get Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rocicorp/diff-server/internal/session"
	"github.com/rocicorp/diff-server/internal/stream"
)

// Config holds the tunable settings of the CLI and the protocol layer.
type Config struct {
	// StorageDir anchors relative store specs. Empty means the working
	// directory.
	StorageDir string `yaml:"storage_dir"`

	// MaxExecutions limits live executions per connection.
	MaxExecutions int `yaml:"max_executions"`

	// ChunkSize is the read capacity used when collecting output.
	ChunkSize int `yaml:"chunk_size"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MaxExecutions: session.DefaultMaxExecutions,
		ChunkSize:     stream.DefaultChunkSize,
		LogLevel:      "warn",
	}
}

// Load reads path over the defaults and validates the result. Keys the
// file omits keep their default; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MaxExecutions < 1 {
		return fmt.Errorf("max_executions must be at least 1, got %d", c.MaxExecutions)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be at least 1, got %d", c.ChunkSize)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level. Call after Validate.
func (c Config) Level() slog.Level {
	l, _ := ParseLevel(c.LogLevel)
	return l
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log_level %q: must be one of debug, info, warn, error", s)
}
