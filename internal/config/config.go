// Package config owns the agent-level configuration (logging, listen
// address, concurrency limits) and the on-disk Configuration Store that
// persists per-domain device identity.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/lantern-desktop/desktopd/internal/logging"
)

var log = logging.L("config")

// Config is the process-wide, ambient configuration: everything that is not
// domain/identity state (that lives in the Store instead).
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	SignalingRequestTimeoutS int `mapstructure:"signaling_request_timeout_seconds"`

	MaxConcurrentInputTasks int `mapstructure:"max_concurrent_input_tasks"`
	InputQueueSize          int `mapstructure:"input_queue_size"`
}

func Default() *Config {
	return &Config{
		ListenAddr:               "0.0.0.0:28001",
		LogLevel:                 "info",
		LogFormat:                "text",
		LogMaxSizeMB:             50,
		LogMaxBackups:            3,
		HeartbeatIntervalSeconds: 20,
		SignalingRequestTimeoutS: 10,
		MaxConcurrentInputTasks:  4,
		InputQueueSize:           256,
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path when empty), overlaying DESKTOP_-prefixed environment variables.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("desktopd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DESKTOP")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation fatal", "error", f)
		}
		return nil, result.Fatals[0]
	}

	return cfg, nil
}

// GetDataDir returns the platform-specific data directory.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "desktopd", "data")
	case "darwin":
		return "/Library/Application Support/desktopd/data"
	default:
		return "/var/lib/desktopd"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "desktopd")
	case "darwin":
		return "/Library/Application Support/desktopd"
	default:
		return "/etc/desktopd"
	}
}
