// Package config loads client configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full client configuration.
type Config struct {
	Server struct {
		APIBaseURL string `yaml:"api_base_url"`
		WSBaseURL  string `yaml:"ws_base_url"`
	} `yaml:"server"`

	Connection struct {
		MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
		ReconnectBaseDelayMS int `yaml:"reconnect_base_delay_ms"`
	} `yaml:"connection"`

	Countdown struct {
		TickIntervalMS int `yaml:"tick_interval_ms"`
	} `yaml:"countdown"`

	Lobby struct {
		RosterPollIntervalMS int `yaml:"roster_poll_interval_ms"`
	} `yaml:"lobby"`

	Relay struct {
		Enabled       bool   `yaml:"enabled"`
		NATSURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"relay"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.APIBaseURL = "http://localhost:8080/api"
	cfg.Server.WSBaseURL = "ws://localhost:8080"
	cfg.Connection.MaxReconnectAttempts = 5
	cfg.Connection.ReconnectBaseDelayMS = 1000
	cfg.Countdown.TickIntervalMS = 200
	cfg.Lobby.RosterPollIntervalMS = 3000
	cfg.Relay.NATSURL = "nats://localhost:4222"
	cfg.Relay.SubjectPrefix = "quizlive"
	cfg.Store.Path = "quizlive.db"
	cfg.LogLevel = "info"
	return cfg
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.APIBaseURL = getEnv("QUIZLIVE_API_URL", cfg.Server.APIBaseURL)
	cfg.Server.WSBaseURL = getEnv("QUIZLIVE_WS_URL", cfg.Server.WSBaseURL)
	cfg.Connection.MaxReconnectAttempts = getEnvAsInt("QUIZLIVE_MAX_RECONNECT_ATTEMPTS", cfg.Connection.MaxReconnectAttempts)
	cfg.Connection.ReconnectBaseDelayMS = getEnvAsInt("QUIZLIVE_RECONNECT_BASE_DELAY_MS", cfg.Connection.ReconnectBaseDelayMS)
	cfg.Relay.NATSURL = getEnv("NATS_URL", cfg.Relay.NATSURL)
	cfg.Store.Path = getEnv("QUIZLIVE_STORE_PATH", cfg.Store.Path)
	cfg.LogLevel = getEnv("QUIZLIVE_LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// ReconnectBaseDelay returns the backoff base as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Connection.ReconnectBaseDelayMS) * time.Millisecond
}

// CountdownTickInterval returns the countdown tick interval as a duration.
func (c *Config) CountdownTickInterval() time.Duration {
	return time.Duration(c.Countdown.TickIntervalMS) * time.Millisecond
}

// RosterPollInterval returns the lobby poll interval as a duration.
func (c *Config) RosterPollInterval() time.Duration {
	return time.Duration(c.Lobby.RosterPollIntervalMS) * time.Millisecond
}

// SessionSocketURL builds the websocket endpoint for a session.
func (c *Config) SessionSocketURL(sessionID string) string {
	return fmt.Sprintf("%s/ws/sessions/%s", c.Server.WSBaseURL, sessionID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
