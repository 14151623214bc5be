package config

import (
	"fmt"
	"time"

	"github.com/migadu/mailfeed/helpers"
)

const (
	DefaultNotifyURL   = "https://api.pushover.net/1/messages.json"
	DefaultNotifyTitle = "New RSS Feed Added"
)

// NotifyConfig configures the new-feed notification (Pushover compatible).
type NotifyConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"` // Application token
	User    string `toml:"user"`  // User or group key
	Title   string `toml:"title"`
	Timeout string `toml:"timeout"` // Upper bound for a single notification attempt

	CircuitBreakerThreshold   int    `toml:"circuit_breaker_threshold"`    // Consecutive failures before opening circuit (default: 5)
	CircuitBreakerTimeout     string `toml:"circuit_breaker_timeout"`      // Recovery test interval (default: "1m")
	CircuitBreakerMaxRequests int    `toml:"circuit_breaker_max_requests"` // Max requests in half-open state (default: 1)
}

// IsConfigured returns true if notifications are enabled and have credentials.
func (n *NotifyConfig) IsConfigured() bool {
	return n.Enabled && n.Token != "" && n.User != ""
}

// GetURL returns the endpoint with default.
func (n *NotifyConfig) GetURL() string {
	if n.URL == "" {
		return DefaultNotifyURL
	}
	return n.URL
}

// GetTitle returns the notification title with default.
func (n *NotifyConfig) GetTitle() string {
	if n.Title == "" {
		return DefaultNotifyTitle
	}
	return n.Title
}

// GetTimeout parses the notification timeout.
func (n *NotifyConfig) GetTimeout() (time.Duration, error) {
	if n.Timeout == "" {
		return 10 * time.Second, nil
	}
	return helpers.ParseDuration(n.Timeout)
}

// GetCircuitBreakerThreshold returns the failure threshold with default.
func (n *NotifyConfig) GetCircuitBreakerThreshold() int {
	if n.CircuitBreakerThreshold <= 0 {
		return 5
	}
	return n.CircuitBreakerThreshold
}

// GetCircuitBreakerTimeout parses the open state duration.
func (n *NotifyConfig) GetCircuitBreakerTimeout() (time.Duration, error) {
	if n.CircuitBreakerTimeout == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(n.CircuitBreakerTimeout)
}

// GetCircuitBreakerMaxRequests returns the half-open request budget with default.
func (n *NotifyConfig) GetCircuitBreakerMaxRequests() int {
	if n.CircuitBreakerMaxRequests <= 0 {
		return 1
	}
	return n.CircuitBreakerMaxRequests
}

// Validate checks notify settings. Disabled notifications are always valid.
func (n *NotifyConfig) Validate() error {
	if !n.Enabled {
		return nil
	}
	if n.Token == "" || n.User == "" {
		return fmt.Errorf("notify.token and notify.user are required when notify.enabled is true")
	}
	if _, err := n.GetTimeout(); err != nil {
		return fmt.Errorf("notify.timeout: %w", err)
	}
	if _, err := n.GetCircuitBreakerTimeout(); err != nil {
		return fmt.Errorf("notify.circuit_breaker_timeout: %w", err)
	}
	return nil
}
