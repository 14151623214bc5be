package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/migadu/mailfeed/config"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/notify"
	serrors "github.com/migadu/mailfeed/pkg/errors"
	"github.com/migadu/mailfeed/pkg/health"
	"github.com/migadu/mailfeed/pkg/resilient"
	"github.com/migadu/mailfeed/server/delivery"
	"github.com/migadu/mailfeed/server/httpapi"
	"github.com/migadu/mailfeed/server/lmtp"
	"github.com/migadu/mailfeed/storage"
)

// Version information, injected at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "config.toml"

// serviceDependencies holds everything the front ends share.
type serviceDependencies struct {
	config    config.Config
	storage   *storage.S3Storage
	store     *resilient.ResilientS3Storage
	notifier  *notify.Pushover
	deliverer *delivery.Deliverer
	monitor   *health.Monitor
	servers   sync.WaitGroup
}

func main() {
	errorHandler := serrors.NewErrorHandler()
	cfg := config.NewDefaultConfig()

	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.BoolVar(showVersion, "v", false, "Show version information and exit")
	configPath := flag.String("config", defaultConfigPath, "Path to TOML configuration file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailfeed version %s (commit: %s, built at: %s)\n", version, commit, date)
		os.Exit(serrors.ExitOK)
	}

	loadAndValidateConfig(*configPath, &cfg, errorHandler)

	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "MAILFEED: Warning initializing logger: %v\n", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Info("MAILFEED: Starting", "version", version, "commit", commit, "built", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("MAILFEED: Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	deps, err := initializeServices(ctx, cfg)
	if err != nil {
		errorHandler.FatalError("initialize services", err)
		os.Exit(errorHandler.WaitForExit())
	}
	deps.monitor.Start(ctx)
	defer deps.monitor.Stop()

	errChan := startServers(ctx, deps)

	select {
	case <-ctx.Done():
		errorHandler.Shutdown(ctx)
		done := make(chan struct{})
		go func() {
			deps.servers.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("MAILFEED: All servers stopped")
		case <-time.After(10 * time.Second):
			logger.Warn("MAILFEED: Server shutdown timeout reached")
		}
	case err := <-errChan:
		errorHandler.FatalError("server operation", err)
		cancel()
		os.Exit(errorHandler.WaitForExit())
	}
}

func loadAndValidateConfig(configPath string, cfg *config.Config, errorHandler *serrors.ErrorHandler) {
	if err := config.LoadConfigFromFile(configPath, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || configPath != defaultConfigPath {
			errorHandler.ConfigError(configPath, err)
			os.Exit(errorHandler.WaitForExit())
		}
		logger.Warn("MAILFEED: Default configuration file not found, using defaults", "path", configPath)
	}
	if err := cfg.Validate(); err != nil {
		errorHandler.ValidationError(err)
		os.Exit(errorHandler.WaitForExit())
	}
}

func initializeServices(ctx context.Context, cfg config.Config) (*serviceDependencies, error) {
	feedCfg, err := buildFeedConfig(cfg.Feed)
	if err != nil {
		return nil, serrors.NewStageError("feed config", err)
	}

	s3, err := storage.New(cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, !cfg.S3.DisableTLS, cfg.S3.Debug)
	if err != nil {
		return nil, serrors.NewStageError("connect storage", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s3.EnsureBucket(initCtx); err != nil {
		return nil, serrors.NewStageError("connect storage", err)
	}
	store := resilient.NewResilientS3Storage(s3)

	deps := &serviceDependencies{
		config:  cfg,
		storage: s3,
		store:   store,
		monitor: health.NewMonitor(),
	}

	// The engine must see a nil interface, not a nil *Pushover.
	var notifier feed.Notifier
	if cfg.Notify.IsConfigured() {
		deps.notifier, err = notify.New(cfg.Notify)
		if err != nil {
			return nil, serrors.NewStageError("notifier", err)
		}
		notifier = deps.notifier
		logger.Info("MAILFEED: New-feed notifications enabled", "url", cfg.Notify.GetURL())
	} else if cfg.Notify.Enabled {
		logger.Warn("MAILFEED: Notifications enabled without token and user, disabling")
	}

	engine := feed.NewEngine(feedCfg, store, notifier)
	deps.deliverer = delivery.NewDeliverer(engine)

	registerHealthChecks(deps)
	return deps, nil
}

func registerHealthChecks(deps *serviceDependencies) {
	deps.monitor.RegisterCheck(health.PingCheck("s3", deps.storage, true))
	deps.monitor.RegisterCheck(health.BreakerCheck("s3_get", deps.store.GetBreakerState, true))
	deps.monitor.RegisterCheck(health.BreakerCheck("s3_put", deps.store.PutBreakerState, true))
	deps.monitor.RegisterCheck(health.BreakerCheck("s3_delete", deps.store.DeleteBreakerState, false))
	if deps.notifier != nil {
		deps.monitor.RegisterCheck(health.BreakerCheck("notify", deps.notifier.Breaker().State, false))
	}
}

func startServers(ctx context.Context, deps *serviceDependencies) chan error {
	errChan := make(chan error, 3)
	cfg := deps.config

	if cfg.LMTP.Start {
		options, err := buildLMTPOptions(cfg.LMTP)
		if err != nil {
			errChan <- fmt.Errorf("lmtp: %w", err)
			return errChan
		}
		deps.servers.Add(1)
		go func() {
			defer deps.servers.Done()
			startLMTPServer(ctx, deps, cfg.LMTP.Addr, options, errChan)
		}()
	}

	if cfg.HTTPAPI.Start {
		options, err := buildHTTPOptions(cfg.HTTPAPI)
		if err != nil {
			errChan <- fmt.Errorf("http_api: %w", err)
			return errChan
		}
		deps.servers.Add(1)
		go func() {
			defer deps.servers.Done()
			httpapi.Start(ctx, deps.deliverer, deps.monitor, options, errChan)
		}()
	}

	if cfg.Metrics.Enabled {
		deps.servers.Add(1)
		go func() {
			defer deps.servers.Done()
			startMetricsServer(ctx, cfg.Metrics, errChan)
		}()
	}

	return errChan
}

func startLMTPServer(ctx context.Context, deps *serviceDependencies, addr string, options lmtp.ServerOptions, errChan chan error) {
	s := lmtp.New(ctx, addr, deps.deliverer, options)

	go func() {
		<-ctx.Done()
		logger.Info("LMTP: Shutting down server", "addr", addr)
		if err := s.Close(); err != nil {
			logger.Warn("LMTP: Error closing server", "error", err)
		}
	}()

	s.Start(errChan)
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("METRICS: Error shutting down server", "error", err)
		}
	}()

	logger.Info("METRICS: Starting server", "addr", cfg.Addr, "path", cfg.Path)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errChan <- fmt.Errorf("metrics server failed: %w", err)
	}
}
