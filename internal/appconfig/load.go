package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/kernelx/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("kernel.default", cfg.Kernel.Default)
	v.SetDefault("kernel.spec_dirs", cfg.Kernel.SpecDirs)
	v.SetDefault("kernel.working_dir", cfg.Kernel.WorkingDir)
	v.SetDefault("kernel.kind", cfg.Kernel.Kind)
	v.SetDefault("session.shutdown_grace_ms", cfg.Session.ShutdownGraceMS)
	v.SetDefault("session.restart_grace_ms", cfg.Session.RestartGraceMS)
	v.SetDefault("session.scroll_context", cfg.Session.ScrollContext)
	v.SetDefault("session.output_max_lines", cfg.Session.OutputMaxLines)
	v.SetDefault("remote.base_url", cfg.Remote.BaseURL)
	v.SetDefault("remote.token", cfg.Remote.Token)
	v.SetDefault("gateway.socket_path", cfg.Gateway.SocketPath)
	v.SetDefault("gateway.keepalive_interval_seconds", cfg.Gateway.KeepaliveIntervalSeconds)
	v.SetDefault("gateway.keepalive_misses", cfg.Gateway.KeepaliveMisses)
	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.db_path", cfg.Telemetry.DBPath)
	v.SetDefault("run.cell_timeout_seconds", cfg.Run.CellTimeoutSeconds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch schema.KernelKind(cfg.Kernel.Kind) {
	case "", schema.KernelKindLocal, schema.KernelKindGateway:
	case schema.KernelKindRemote:
		if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
			return fmt.Errorf("remote.base_url is required when kernel.kind is remote")
		}
	default:
		return fmt.Errorf("unsupported kernel.kind %q", cfg.Kernel.Kind)
	}
	if baseURL := strings.TrimSpace(cfg.Remote.BaseURL); baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("remote.base_url must include scheme and host (e.g. http://localhost:8888)")
		}
	}
	if cfg.Session.ShutdownGraceMS < 0 || cfg.Session.RestartGraceMS < 0 {
		return fmt.Errorf("session grace periods must not be negative")
	}
	if cfg.Run.CellTimeoutSeconds < 0 {
		return fmt.Errorf("run.cell_timeout_seconds must not be negative")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	for i, dir := range cfg.Kernel.SpecDirs {
		cfg.Kernel.SpecDirs[i] = expandEnv(dir)
	}
	cfg.Kernel.WorkingDir = expandEnv(cfg.Kernel.WorkingDir)
	cfg.Remote.BaseURL = expandEnv(cfg.Remote.BaseURL)
	cfg.Remote.Token = expandEnv(cfg.Remote.Token)
	// An unset token variable means no token.
	if strings.HasPrefix(cfg.Remote.Token, "$") {
		cfg.Remote.Token = ""
	}
	cfg.Gateway.SocketPath = expandEnv(cfg.Gateway.SocketPath)
	cfg.Telemetry.DBPath = expandEnv(cfg.Telemetry.DBPath)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
