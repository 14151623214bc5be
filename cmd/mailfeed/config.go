package main

import (
	"fmt"

	"github.com/migadu/mailfeed/config"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/server"
	"github.com/migadu/mailfeed/server/httpapi"
	"github.com/migadu/mailfeed/server/lmtp"
)

func buildFeedConfig(cfg config.FeedConfig) (feed.Config, error) {
	maxBytes, err := cfg.GetMaxSize()
	if err != nil {
		return feed.Config{}, fmt.Errorf("invalid feed.max_size: %w", err)
	}
	summary := feed.SummarySubject
	if cfg.Summary == config.SummaryExcerpt {
		summary = feed.SummaryExcerpt
	}
	return feed.Config{
		BucketDomain:  cfg.BucketDomain,
		MaxBytes:      maxBytes,
		MaxEntries:    cfg.MaxEntries,
		PrettyXML:     cfg.PrettyXML,
		Summary:       summary,
		ExcerptLength: cfg.GetExcerptLength(),
	}, nil
}

func buildLMTPOptions(cfg config.LMTPConfig) (lmtp.ServerOptions, error) {
	maxSize, err := cfg.GetMaxMessageSize()
	if err != nil {
		return lmtp.ServerOptions{}, fmt.Errorf("invalid max_message_size: %w", err)
	}
	readTimeout, err := cfg.GetReadTimeout()
	if err != nil {
		return lmtp.ServerOptions{}, fmt.Errorf("invalid read_timeout: %w", err)
	}
	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		return lmtp.ServerOptions{}, fmt.Errorf("invalid write_timeout: %w", err)
	}
	trusted, err := server.ParseNetworks(cfg.TrustedNetworks)
	if err != nil {
		return lmtp.ServerOptions{}, fmt.Errorf("invalid trusted_networks: %w", err)
	}
	return lmtp.ServerOptions{
		Hostname:        cfg.Hostname,
		MaxMessageSize:  maxSize,
		TrustedNetworks: trusted,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,

		MaxConnections:      cfg.MaxConnections,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
	}, nil
}

func buildHTTPOptions(cfg config.HTTPAPIConfig) (httpapi.ServerOptions, error) {
	maxSize, err := cfg.GetMaxMessageSize()
	if err != nil {
		return httpapi.ServerOptions{}, fmt.Errorf("invalid max_message_size: %w", err)
	}
	allowed, err := server.ParseNetworks(cfg.AllowedHosts)
	if err != nil {
		return httpapi.ServerOptions{}, fmt.Errorf("invalid allowed_hosts: %w", err)
	}
	return httpapi.ServerOptions{
		Addr:           cfg.Addr,
		AllowedHosts:   allowed,
		MaxMessageSize: maxSize,
	}, nil
}
