package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/kernelx/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int             `mapstructure:"config_version" yaml:"config_version"`
	Kernel        KernelConfig    `mapstructure:"kernel" yaml:"kernel"`
	Session       SessionConfig   `mapstructure:"session" yaml:"session"`
	Remote        RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Gateway       GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Telemetry     TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Run           RunConfig       `mapstructure:"run" yaml:"run"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// KernelConfig selects and locates kernelspecs.
type KernelConfig struct {
	Default string `mapstructure:"default" yaml:"default"`
	// SpecDirs are Jupyter data directories searched before the standard ones.
	SpecDirs   []string `mapstructure:"spec_dirs" yaml:"spec_dirs"`
	WorkingDir string   `mapstructure:"working_dir" yaml:"working_dir"`
	// Kind routes the default kernel: local, remote or gateway.
	Kind string `mapstructure:"kind" yaml:"kind"`
}

// SessionConfig controls session timing and limits.
type SessionConfig struct {
	ShutdownGraceMS int `mapstructure:"shutdown_grace_ms" yaml:"shutdown_grace_ms"`
	RestartGraceMS  int `mapstructure:"restart_grace_ms" yaml:"restart_grace_ms"`
	ScrollContext   int `mapstructure:"scroll_context" yaml:"scroll_context"`
	OutputMaxLines  int `mapstructure:"output_max_lines" yaml:"output_max_lines"`
}

// RemoteConfig points at a Jupyter server.
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Token   string `mapstructure:"token" yaml:"token"`
}

// GatewayConfig configures the kernel gateway socket.
type GatewayConfig struct {
	SocketPath               string `mapstructure:"socket_path" yaml:"socket_path"`
	KeepaliveIntervalSeconds int    `mapstructure:"keepalive_interval_seconds" yaml:"keepalive_interval_seconds"`
	KeepaliveMisses          int    `mapstructure:"keepalive_misses" yaml:"keepalive_misses"`
}

// TelemetryConfig controls the event store.
type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path"`
}

// RunConfig controls the run command.
type RunConfig struct {
	CellTimeoutSeconds int `mapstructure:"cell_timeout_seconds" yaml:"cell_timeout_seconds"`
}

// SessionSettings converts the session section into a session config.
func (c Config) SessionSettings() schema.SessionConfig {
	return schema.SessionConfig{
		ShutdownGrace:  time.Duration(c.Session.ShutdownGraceMS) * time.Millisecond,
		RestartGrace:   time.Duration(c.Session.RestartGraceMS) * time.Millisecond,
		ScrollContext:  c.Session.ScrollContext,
		OutputMaxLines: c.Session.OutputMaxLines,
	}
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Kernel: KernelConfig{
			Default:    "python3",
			SpecDirs:   []string{},
			WorkingDir: "",
			Kind:       string(schema.KernelKindLocal),
		},
		Session: SessionConfig{
			ShutdownGraceMS: int(schema.DefaultShutdownGrace / time.Millisecond),
			RestartGraceMS:  int(schema.DefaultRestartGrace / time.Millisecond),
			ScrollContext:   schema.DefaultScrollContext,
			OutputMaxLines:  schema.DefaultOutputMaxLines,
		},
		Remote: RemoteConfig{
			BaseURL: "",
			Token:   "${JUPYTER_TOKEN}",
		},
		Gateway: GatewayConfig{
			SocketPath:               filepath.Join(home, ".kernelx", "gateway.sock"),
			KeepaliveIntervalSeconds: 0,
			KeepaliveMisses:          3,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			DBPath:  filepath.Join(home, ".kernelx", "telemetry.db"),
		},
		Run: RunConfig{
			CellTimeoutSeconds: 300,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kernelx", "config.yaml"), nil
}
