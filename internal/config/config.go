// Package config handles configuration loading for Overseer.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Overseer.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AnthropicConfig holds reasoning backend settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// SupervisorConfig holds tick-loop settings.
type SupervisorConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	AssignBudget      int           `mapstructure:"assign_budget"`
	WorkloadThreshold int           `mapstructure:"workload_threshold"`
	ErrorThreshold    int           `mapstructure:"error_threshold"`
	IdleAgentTimeout  time.Duration `mapstructure:"idle_agent_timeout"`
	// ControlDir is where operator signal files (stop, pause, resume) are
	// watched.
	ControlDir string `mapstructure:"control_dir"`
}

// QueueConfig holds task queue settings.
type QueueConfig struct {
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffCap         time.Duration `mapstructure:"backoff_cap"`
	AgingThreshold     time.Duration `mapstructure:"aging_threshold"`
	RoutingMaxAttempts int           `mapstructure:"routing_max_attempts"`
}

// RegistryConfig holds agent registry settings.
type RegistryConfig struct {
	MaxAgents            int `mapstructure:"max_agents"`
	DefaultMaxConcurrent int `mapstructure:"default_max_concurrent"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty disables persistence.
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	// DebugLog is the debug log file path. Empty disables the debug log.
	DebugLog string `mapstructure:"debug_log"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, OVERSEER_*)
// 2. Project config (.overseer.yaml in current directory or parent)
// 3. User config (~/.config/overseer/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("OVERSEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("supervisor.tick_interval", "1s")
	v.SetDefault("supervisor.assign_budget", 10)
	v.SetDefault("supervisor.workload_threshold", 10)
	v.SetDefault("supervisor.error_threshold", 3)
	v.SetDefault("supervisor.idle_agent_timeout", "10m")
	v.SetDefault("supervisor.control_dir", ".overseer/control")

	v.SetDefault("queue.backoff_base", "2s")
	v.SetDefault("queue.backoff_cap", "5m")
	v.SetDefault("queue.aging_threshold", "5m")
	v.SetDefault("queue.routing_max_attempts", 0)

	v.SetDefault("registry.max_agents", 50)
	v.SetDefault("registry.default_max_concurrent", 3)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("logging.debug_log", "")
}

// getUserConfigDir returns the XDG config directory for Overseer.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "overseer")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "overseer")
	}
	return filepath.Join(home, ".config", "overseer")
}

// findProjectConfig searches for .overseer.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		candidate := filepath.Join(dir, ".overseer.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnv expands ${VAR} references in the value.
func expandEnv(value string) string {
	if strings.Contains(value, "${") {
		return os.ExpandEnv(value)
	}
	return value
}
