// Package config handles configuration loading for conductor.
// It supports XDG config paths, project-level overrides, and CONDUCTOR_ environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for conductor.
type Config struct {
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Listen      string            `mapstructure:"listen"`
	Health      HealthConfig      `mapstructure:"health"`
	Restart     RestartConfig     `mapstructure:"restart"`
	Launch      LaunchConfig      `mapstructure:"launch"`
	Shutdown    ShutdownConfig    `mapstructure:"shutdown"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Environment EnvironmentConfig `mapstructure:"environment"`
}

// CredentialsConfig holds secrets handed to workers.
type CredentialsConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// PathsConfig holds on-disk locations.
type PathsConfig struct {
	WorkersDir string `mapstructure:"workers_dir"`
	Fleet      string `mapstructure:"fleet"`
	Domains    string `mapstructure:"domains"`
	Snapshot   string `mapstructure:"snapshot"`
	DB         string `mapstructure:"db"`
	Logs       string `mapstructure:"logs"`
}

// HealthConfig controls the supervisor's liveness probing.
type HealthConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	Path         string        `mapstructure:"path"`
}

// RestartConfig bounds the restart policy.
type RestartConfig struct {
	Cooldown    time.Duration `mapstructure:"cooldown"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// LaunchConfig controls layered fleet start-up.
type LaunchConfig struct {
	Stagger            time.Duration `mapstructure:"stagger"`
	ReadyTimeout       time.Duration `mapstructure:"ready_timeout"`
	MinSpecialists     int           `mapstructure:"min_specialists"`
	AllowedExecutables []string      `mapstructure:"allowed_executables"`
}

// ShutdownConfig controls fleet teardown.
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// SchedulerConfig bounds plan execution.
type SchedulerConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// EnvironmentConfig lists preconditions checked before the fleet starts.
type EnvironmentConfig struct {
	// Required names configuration keys (e.g. credentials.api_key) or
	// environment variables that must be non-empty.
	Required []string `mapstructure:"required"`
}

// Load loads configuration. When path is set it is the only file read;
// otherwise precedence (highest to lowest) is:
// 1. Environment variables (CONDUCTOR_*)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(getUserConfigDir())
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading user config: %w", err)
			}
		}

		if projectConfig := findProjectConfig(); projectConfig != "" {
			projectViper := viper.New()
			projectViper.SetConfigFile(projectConfig)
			if err := projectViper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading project config: %w", err)
			}
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Credentials.APIKey = os.ExpandEnv(cfg.Credentials.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the supervisor and scheduler cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Health.Interval <= 0:
		return fmt.Errorf("invalid config: health.interval must be positive")
	case c.Health.ProbeTimeout <= 0:
		return fmt.Errorf("invalid config: health.probe_timeout must be positive")
	case c.Restart.MaxAttempts < 1:
		return fmt.Errorf("invalid config: restart.max_attempts must be at least 1")
	case c.Restart.MaxDelay < c.Restart.BaseDelay:
		return fmt.Errorf("invalid config: restart.max_delay is below restart.base_delay")
	case c.Launch.MinSpecialists < 0:
		return fmt.Errorf("invalid config: launch.min_specialists must not be negative")
	case c.Scheduler.MaxParallel < 1:
		return fmt.Errorf("invalid config: scheduler.max_parallel must be at least 1")
	}
	return nil
}

// RequiredValues resolves every name in environment.required. Names that are
// configuration keys resolve to the loaded value; anything else is read from
// the process environment.
func (c *Config) RequiredValues() map[string]string {
	known := map[string]string{
		"credentials.api_key": c.Credentials.APIKey,
		"paths.workers_dir":   c.Paths.WorkersDir,
		"paths.fleet":         c.Paths.Fleet,
		"paths.domains":       c.Paths.Domains,
	}
	out := make(map[string]string, len(c.Environment.Required))
	for _, name := range c.Environment.Required {
		if val, ok := known[name]; ok {
			out[name] = val
			continue
		}
		out[name] = os.Getenv(name)
	}
	return out
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("CONDUCTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("credentials.api_key", "CONDUCTOR_API_KEY")
	v.BindEnv("listen", "CONDUCTOR_LISTEN")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	dataDir := getDataDir()

	v.SetDefault("credentials.api_key", "")

	v.SetDefault("paths.workers_dir", "workers")
	v.SetDefault("paths.fleet", "fleet.yaml")
	v.SetDefault("paths.domains", "domains.yaml")
	v.SetDefault("paths.snapshot", filepath.Join(dataDir, "processes.json"))
	v.SetDefault("paths.db", filepath.Join(dataDir, "conductor.db"))
	v.SetDefault("paths.logs", filepath.Join(dataDir, "logs"))

	v.SetDefault("listen", "127.0.0.1:7466")

	v.SetDefault("health.interval", "10s")
	v.SetDefault("health.probe_timeout", "2s")
	v.SetDefault("health.path", "/health")

	v.SetDefault("restart.cooldown", "1s")
	v.SetDefault("restart.base_delay", "1s")
	v.SetDefault("restart.max_delay", "60s")
	v.SetDefault("restart.max_attempts", 5)

	v.SetDefault("launch.stagger", "500ms")
	v.SetDefault("launch.ready_timeout", "10s")
	v.SetDefault("launch.min_specialists", 2)
	v.SetDefault("launch.allowed_executables", []string{})

	v.SetDefault("shutdown.grace_period", "5s")

	v.SetDefault("scheduler.max_parallel", 8)
	v.SetDefault("scheduler.task_timeout", "60s")

	v.SetDefault("environment.required", []string{"credentials.api_key", "paths.workers_dir"})
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := getDataDir()
	return &Config{
		Paths: PathsConfig{
			WorkersDir: "workers",
			Fleet:      "fleet.yaml",
			Domains:    "domains.yaml",
			Snapshot:   filepath.Join(dataDir, "processes.json"),
			DB:         filepath.Join(dataDir, "conductor.db"),
			Logs:       filepath.Join(dataDir, "logs"),
		},
		Listen: "127.0.0.1:7466",
		Health: HealthConfig{
			Interval:     10 * time.Second,
			ProbeTimeout: 2 * time.Second,
			Path:         "/health",
		},
		Restart: RestartConfig{
			Cooldown:    time.Second,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
			MaxAttempts: 5,
		},
		Launch: LaunchConfig{
			Stagger:        500 * time.Millisecond,
			ReadyTimeout:   10 * time.Second,
			MinSpecialists: 2,
		},
		Shutdown: ShutdownConfig{
			GracePeriod: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MaxParallel: 8,
			TaskTimeout: 60 * time.Second,
		},
		Environment: EnvironmentConfig{
			Required: []string{"credentials.api_key", "paths.workers_dir"},
		},
	}
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// getDataDir returns the directory for the snapshot, database and worker logs.
func getDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".conductor.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
