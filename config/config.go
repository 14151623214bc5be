package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/migadu/mailfeed/helpers"
)

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // "json" or "console"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// S3Config holds the object storage endpoint the feeds are published to.
type S3Config struct {
	Endpoint   string `toml:"endpoint"`
	DisableTLS bool   `toml:"disable_tls"`
	AccessKey  string `toml:"access_key"`
	SecretKey  string `toml:"secret_key"`
	Bucket     string `toml:"bucket"`
	Debug      bool   `toml:"debug"` // Enable detailed S3 request/response tracing
}

// FeedConfig holds feed rendering and retention settings.
type FeedConfig struct {
	// Public host serving the bucket, used for self links and companion links.
	BucketDomain string `toml:"bucket_domain"`
	// Maximum total content size of a feed ("2mb"). Negative disables the limit.
	MaxSize string `toml:"max_size"`
	// Maximum number of entries in a feed. Negative disables the limit.
	MaxEntries    int    `toml:"max_entries"`
	PrettyXML     bool   `toml:"pretty_xml"`
	Summary       string `toml:"summary"`        // "subject" (default) or "excerpt"
	ExcerptLength int    `toml:"excerpt_length"` // Runes kept in excerpt summaries
}

// GetMaxSize returns the feed size limit in bytes.
func (f *FeedConfig) GetMaxSize() (int64, error) {
	if f.MaxSize == "" {
		return DefaultFeedMaxSize, nil
	}
	return helpers.ParseSize(f.MaxSize)
}

// GetExcerptLength returns the excerpt length with default.
func (f *FeedConfig) GetExcerptLength() int {
	if f.ExcerptLength <= 0 {
		return 280
	}
	return f.ExcerptLength
}

// LMTPConfig holds the LMTP listener configuration.
type LMTPConfig struct {
	Start           bool     `toml:"start"`
	Addr            string   `toml:"addr"`
	Hostname        string   `toml:"hostname"`
	MaxMessageSize  string   `toml:"max_message_size"`
	TrustedNetworks []string `toml:"trusted_networks"` // CIDRs allowed to connect; empty allows all
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`

	MaxConnections      int `toml:"max_connections"`        // 0 for unlimited
	MaxConnectionsPerIP int `toml:"max_connections_per_ip"` // 0 for unlimited
}

// GetMaxMessageSize returns the maximum accepted message size in bytes.
func (l *LMTPConfig) GetMaxMessageSize() (int64, error) {
	if l.MaxMessageSize == "" {
		return DefaultMaxMessageSize, nil
	}
	return helpers.ParseSize(l.MaxMessageSize)
}

// GetReadTimeout parses the connection read timeout.
func (l *LMTPConfig) GetReadTimeout() (time.Duration, error) {
	if l.ReadTimeout == "" {
		return 5 * time.Minute, nil
	}
	return helpers.ParseDuration(l.ReadTimeout)
}

// GetWriteTimeout parses the connection write timeout.
func (l *LMTPConfig) GetWriteTimeout() (time.Duration, error) {
	if l.WriteTimeout == "" {
		return time.Minute, nil
	}
	return helpers.ParseDuration(l.WriteTimeout)
}

// HTTPAPIConfig holds the HTTP ingestion endpoint configuration.
type HTTPAPIConfig struct {
	Start          bool     `toml:"start"`
	Addr           string   `toml:"addr"`
	AllowedHosts   []string `toml:"allowed_hosts"` // Client IPs or CIDRs; empty allows all
	MaxMessageSize string   `toml:"max_message_size"`
}

// GetMaxMessageSize returns the maximum accepted request body size in bytes.
func (h *HTTPAPIConfig) GetMaxMessageSize() (int64, error) {
	if h.MaxMessageSize == "" {
		return DefaultMaxMessageSize, nil
	}
	return helpers.ParseSize(h.MaxMessageSize)
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

const (
	DefaultFeedMaxSize    int64 = 2 * 1024 * 1024
	DefaultFeedMaxEntries       = 20
	DefaultMaxMessageSize int64 = 25 * 1024 * 1024

	SummarySubject = "subject"
	SummaryExcerpt = "excerpt"
)

// Config is the top level configuration.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	S3      S3Config      `toml:"s3"`
	Feed    FeedConfig    `toml:"feed"`
	Notify  NotifyConfig  `toml:"notify"`
	LMTP    LMTPConfig    `toml:"lmtp"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
	Metrics MetricsConfig `toml:"metrics"`
}

// NewDefaultConfig returns a configuration populated with defaults. Values
// read by LoadConfigFromFile are layered on top of it.
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		S3: S3Config{
			Endpoint: "localhost:9000",
			Bucket:   "feeds",
		},
		Feed: FeedConfig{
			MaxSize:       "2mb",
			MaxEntries:    DefaultFeedMaxEntries,
			Summary:       SummarySubject,
			ExcerptLength: 280,
		},
		Notify: NotifyConfig{
			URL:     DefaultNotifyURL,
			Title:   DefaultNotifyTitle,
			Timeout: "10s",
		},
		LMTP: LMTPConfig{
			Start:               true,
			Addr:                ":24",
			Hostname:            "localhost",
			MaxMessageSize:      "25mb",
			MaxConnections:      100,
			MaxConnectionsPerIP: 20,
		},
		HTTPAPI: HTTPAPIConfig{
			Start:          false,
			Addr:           ":8080",
			MaxMessageSize: "25mb",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// Validate checks the configuration for missing or malformed settings.
func (c *Config) Validate() error {
	if c.S3.Endpoint == "" {
		return fmt.Errorf("s3.endpoint is required")
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if c.Feed.BucketDomain == "" {
		return fmt.Errorf("feed.bucket_domain is required")
	}
	if strings.Contains(c.Feed.BucketDomain, "/") {
		return fmt.Errorf("feed.bucket_domain must be a host name, not a URL: '%s'", c.Feed.BucketDomain)
	}
	if _, err := c.Feed.GetMaxSize(); err != nil {
		return fmt.Errorf("feed.max_size: %w", err)
	}
	switch c.Feed.Summary {
	case "", SummarySubject, SummaryExcerpt:
	default:
		return fmt.Errorf("invalid feed.summary '%s', must be one of: %s, %s", c.Feed.Summary, SummarySubject, SummaryExcerpt)
	}
	if err := c.Notify.Validate(); err != nil {
		return err
	}
	if !c.LMTP.Start && !c.HTTPAPI.Start {
		return fmt.Errorf("no ingestion endpoint enabled: set lmtp.start or http_api.start")
	}
	if c.LMTP.Start {
		if c.LMTP.Addr == "" {
			return fmt.Errorf("lmtp.addr is required")
		}
		if _, err := c.LMTP.GetMaxMessageSize(); err != nil {
			return fmt.Errorf("lmtp.max_message_size: %w", err)
		}
		if _, err := c.LMTP.GetReadTimeout(); err != nil {
			return fmt.Errorf("lmtp.read_timeout: %w", err)
		}
		if _, err := c.LMTP.GetWriteTimeout(); err != nil {
			return fmt.Errorf("lmtp.write_timeout: %w", err)
		}
		if c.LMTP.MaxConnections < 0 || c.LMTP.MaxConnectionsPerIP < 0 {
			return fmt.Errorf("lmtp connection limits must not be negative")
		}
	}
	if c.HTTPAPI.Start {
		if c.HTTPAPI.Addr == "" {
			return fmt.Errorf("http_api.addr is required")
		}
		if _, err := c.HTTPAPI.GetMaxMessageSize(); err != nil {
			return fmt.Errorf("http_api.max_message_size: %w", err)
		}
	}
	return nil
}
