package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                      = "QUILL"
	defaultHTTPAddress             = "0.0.0.0:8080"
	defaultDatabasePath            = "quill.db"
	defaultLogLevel                = "info"
	defaultSnapshotIntervalSeconds = 30
	defaultSnapshotCadence         = 10
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SnapshotMinInterval time.Duration
	SnapshotCadence     int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("snapshot.min_interval_seconds", defaultSnapshotIntervalSeconds)
	configViper.SetDefault("snapshot.revision_cadence", defaultSnapshotCadence)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SnapshotMinInterval: time.Duration(configViper.GetInt64("snapshot.min_interval_seconds")) * time.Second,
		SnapshotCadence:     configViper.GetInt64("snapshot.revision_cadence"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.SnapshotMinInterval <= 0 {
		return fmt.Errorf("snapshot.min_interval_seconds must be positive")
	}
	if c.SnapshotCadence <= 0 {
		return fmt.Errorf("snapshot.revision_cadence must be positive")
	}
	return nil
}
