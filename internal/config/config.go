// Package config loads the YAML-backed configuration for htcp's example
// server and client binaries.
//
// Grounded on cellorg/internal/config/config.go's Load(filename) style:
// read the file, unmarshal onto a zero-valued struct, fill defaults for
// anything left unset, then validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the on-disk shape behind server.Config.
type ServerConfig struct {
	ServerName         string `yaml:"server_name"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	MaxConnections     int    `yaml:"max_connections"`
	ExposeTransactions *bool  `yaml:"expose_transactions"`
	MaxPayloadBytes    int    `yaml:"max_payload_bytes"`
	OutboundQueueSize  int    `yaml:"outbound_queue_size"`
	CancelGraceSeconds int    `yaml:"cancel_grace_seconds"`
	HandshakeTimeoutMs int    `yaml:"handshake_timeout_ms"`
	Debug              bool   `yaml:"debug"`
}

// ClientConfig is the on-disk shape behind client.Config.
type ClientConfig struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	MaxPayloadBytes   int    `yaml:"max_payload_bytes"`
	DialTimeoutMs     int    `yaml:"dial_timeout_ms"`
	DisconnectGraceMs int    `yaml:"disconnect_grace_ms"`
	Debug             bool   `yaml:"debug"`
}

// LoadServerConfig reads and validates a server config file, filling
// defaults for anything left unset.
func LoadServerConfig(filename string) (*ServerConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read server config %s: %w", filename, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config %s: %w", filename, err)
	}

	if cfg.ServerName == "" {
		cfg.ServerName = "htcp"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 100
	}
	if cfg.ExposeTransactions == nil {
		t := true
		cfg.ExposeTransactions = &t
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 16 * 1024 * 1024
	}
	if cfg.OutboundQueueSize == 0 {
		cfg.OutboundQueueSize = 256
	}
	if cfg.CancelGraceSeconds == 0 {
		cfg.CancelGraceSeconds = 3
	}
	if cfg.HandshakeTimeoutMs == 0 {
		cfg.HandshakeTimeoutMs = 5000
	}

	if cfg.Port < 0 {
		return nil, fmt.Errorf("config: port cannot be negative: %d", cfg.Port)
	}
	if cfg.MaxConnections < 0 {
		return nil, fmt.Errorf("config: max_connections cannot be negative: %d", cfg.MaxConnections)
	}
	if cfg.CancelGraceSeconds < 0 {
		return nil, fmt.Errorf("config: cancel_grace_seconds cannot be negative: %d", cfg.CancelGraceSeconds)
	}

	return &cfg, nil
}

// LoadClientConfig reads and validates a client config file.
func LoadClientConfig(filename string) (*ClientConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: read client config %s: %w", filename, err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse client config %s: %w", filename, err)
	}

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 16 * 1024 * 1024
	}
	if cfg.DialTimeoutMs == 0 {
		cfg.DialTimeoutMs = 5000
	}
	if cfg.DisconnectGraceMs == 0 {
		cfg.DisconnectGraceMs = 3000
	}

	if cfg.Port < 0 {
		return nil, fmt.Errorf("config: port cannot be negative: %d", cfg.Port)
	}

	return &cfg, nil
}

// CancelGrace returns the configured cancel grace as a time.Duration.
func (c *ServerConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}

// HandshakeTimeout returns the configured handshake timeout as a
// time.Duration.
func (c *ServerConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// DialTimeout returns the configured dial timeout as a time.Duration.
func (c *ClientConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// DisconnectGrace returns the configured disconnect grace as a
// time.Duration.
func (c *ClientConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceMs) * time.Millisecond
}
