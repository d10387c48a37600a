package schema

import (
	"errors"
	"time"
)

// SessionConfig defines timing and limits for a kernel session.
type SessionConfig struct {
	// ShutdownGrace bounds how long shutdown waits for the forced kill.
	ShutdownGrace time.Duration
	// RestartGrace is the pause between the restart request and the kill.
	RestartGrace time.Duration
	// ScrollContext is the number of lines kept above the cursor on move-down.
	ScrollContext int
	// OutputMaxLines caps the rendered lines kept per execution block.
	OutputMaxLines int
}

const (
	// DefaultShutdownGrace is the shutdown grace period.
	DefaultShutdownGrace = 3 * time.Second
	// DefaultRestartGrace is the restart grace period.
	DefaultRestartGrace = time.Second
	// DefaultScrollContext is the autoscroll context above the cursor.
	DefaultScrollContext = 8
	// DefaultOutputMaxLines is the per-block output line limit.
	DefaultOutputMaxLines = 5000
)

// NormalizeSessionConfig applies defaults and validates the config.
func NormalizeSessionConfig(cfg SessionConfig) (SessionConfig, error) {
	if cfg.ShutdownGrace < 0 || cfg.RestartGrace < 0 {
		return SessionConfig{}, errors.New("grace periods must not be negative")
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.RestartGrace == 0 {
		cfg.RestartGrace = DefaultRestartGrace
	}
	if cfg.ScrollContext <= 0 {
		cfg.ScrollContext = DefaultScrollContext
	}
	if cfg.OutputMaxLines <= 0 {
		cfg.OutputMaxLines = DefaultOutputMaxLines
	}
	return cfg, nil
}
