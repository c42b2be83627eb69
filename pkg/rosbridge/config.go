// Package rosbridge provides a client for the rosbridge v2 websocket
// protocol, the transport between navtest and the ROS navigation stack.
//
// This package handles:
//   - Session management with retry on connect
//   - Topic advertise/publish
//   - Topic subscriptions with per-topic handler fan-out
//   - One-shot blocking receives (wait for a single message)
package rosbridge

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds rosbridge client configuration.
type Config struct {
	// URL is the rosbridge websocket endpoint.
	// Example: "ws://192.168.1.20:9090"
	URL string `yaml:"url" json:"url"`

	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// ReconnectInterval is how long to wait between connect attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of connect attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:9090",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", c.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be 'ws' or 'wss', got '%s'", u.Scheme)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	return nil
}
