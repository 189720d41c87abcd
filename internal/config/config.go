// Package config loads the gateway's runtime configuration, grounded
// on the teacher's cmd/main.go loadConfig: start from in-code defaults,
// then overlay a YAML file via gopkg.in/yaml.v3 when one is present.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bifrost-industrial/cip-gateway/internal/connection"
	"github.com/bifrost-industrial/cip-gateway/internal/plcerr"
	"github.com/bifrost-industrial/cip-gateway/internal/session"
)

// Config is the gateway's top-level runtime configuration: the target
// PLC endpoint, pool sizing, an optional auth token for any front-end
// the operator places in front of this gateway, and the ambient
// session/logging knobs spec.md §6 and §9 name.
type Config struct {
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	PoolSize  int    `yaml:"pool_size"`
	AuthToken string `yaml:"auth_token"`

	LogLevel string `yaml:"log_level"`

	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`
	HeartbeatFailureThreshold int           `yaml:"heartbeat_failure_threshold"`
	ReconnectRetries          int           `yaml:"reconnect_retries"`
	OperationTimeout          time.Duration `yaml:"operation_timeout"`

	DeviceDescriptionPath string `yaml:"device_description_path"`
}

// Default returns the gateway's built-in defaults, matching
// session.DefaultConfig's values plus a standard ENIP endpoint.
func Default() Config {
	sessionDefaults := session.DefaultConfig()
	return Config{
		Host:                      "127.0.0.1",
		Port:                      connection.DefaultPort,
		PoolSize:                  sessionDefaults.PoolConfig.Capacity,
		LogLevel:                  "info",
		HeartbeatInterval:         sessionDefaults.HeartbeatInterval,
		HeartbeatFailureThreshold: sessionDefaults.HeartbeatFailureThreshold,
		ReconnectRetries:          sessionDefaults.ReconnectRetries,
		OperationTimeout:          sessionDefaults.OperationTimeout,
	}
}

// Load reads path as YAML over top of Default. A missing file is not
// an error: the gateway runs on defaults alone, matching the teacher's
// loadConfig behavior of silently keeping defaults when the configured
// file doesn't exist.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, plcerr.Wrap(plcerr.KindConfigInvalid, "config.Load", "reading config file", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, plcerr.Wrap(plcerr.KindConfigInvalid, "config.Load", "parsing config YAML", err)
	}
	return cfg, nil
}

// Endpoint returns the PLC endpoint this config names.
func (c Config) Endpoint() connection.Endpoint {
	return connection.Endpoint{Host: c.Host, Port: c.Port}.WithDefaultPort()
}

// SessionConfig builds a session.Config from the ambient fields of c,
// leaving heartbeat pattern, backoff shape, and pool connection/breaker
// settings at their package defaults.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = c.HeartbeatInterval
	}
	if c.HeartbeatFailureThreshold > 0 {
		cfg.HeartbeatFailureThreshold = c.HeartbeatFailureThreshold
	}
	if c.ReconnectRetries > 0 {
		cfg.ReconnectRetries = c.ReconnectRetries
	}
	if c.OperationTimeout > 0 {
		cfg.OperationTimeout = c.OperationTimeout
	}
	if c.PoolSize > 0 {
		cfg.PoolConfig.Capacity = c.PoolSize
	}
	return cfg
}
