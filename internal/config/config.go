// Package config loads the syncroom server configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the syncroom server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the listener and the hub's timing knobs.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxConnections caps live connections; admission beyond it is
	// rejected at accept time.
	MaxConnections int `yaml:"max_connections"`

	// HeartbeatInterval is the liveness probe cadence. A connection silent
	// for more than twice this window is terminated.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SessionTimeout evicts document sessions idle past this window; the
	// reaper scans at a quarter of it.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// EnableCompression negotiates permessage-deflate with clients.
	EnableCompression bool `yaml:"enable_compression"`
}

// LoggingConfig controls process logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "localhost",
			Port:              8080,
			MaxConnections:    100,
			HeartbeatInterval: 30 * time.Second,
			SessionTimeout:    5 * time.Minute,
			EnableCompression: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults, so absent keys keep their
// default values. Environment variables in the file are expanded before
// parsing. An empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the hub cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	case c.Server.MaxConnections <= 0:
		return fmt.Errorf("config: max_connections must be positive")
	case c.Server.HeartbeatInterval <= 0:
		return fmt.Errorf("config: heartbeat_interval must be positive")
	case c.Server.SessionTimeout <= 0:
		return fmt.Errorf("config: session_timeout must be positive")
	}
	return nil
}

// Addr renders the listen address for net.Listen.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
