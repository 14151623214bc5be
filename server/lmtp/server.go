// Package lmtp accepts messages from a local MTA over LMTP and turns each
// one into a feed update.
package lmtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/metrics"
	"github.com/migadu/mailfeed/server"
	"github.com/migadu/mailfeed/server/idgen"
)

// Deliverer applies a raw message to its feed.
type Deliverer interface {
	Deliver(ctx context.Context, source string, raw []byte) (*feed.Result, error)
}

type ServerOptions struct {
	Hostname        string
	MaxMessageSize  int64 // 0 disables the limit
	TrustedNetworks server.Networks
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration

	// Connection caps, zero disables.
	MaxConnections      int
	MaxConnectionsPerIP int
	Debug               io.Writer // protocol trace, nil to disable
}

// LMTPServerBackend implements smtp.Backend.
type LMTPServerBackend struct {
	appCtx          context.Context
	deliverer       Deliverer
	server          *smtp.Server
	maxMessageSize  int64
	trustedNetworks server.Networks
	limiter         *server.ConnectionLimiter

	totalConnections  atomic.Int64
	activeConnections atomic.Int64
}

func New(appCtx context.Context, addr string, deliverer Deliverer, options ServerOptions) *LMTPServerBackend {
	backend := &LMTPServerBackend{
		appCtx:          appCtx,
		deliverer:       deliverer,
		maxMessageSize:  options.MaxMessageSize,
		trustedNetworks: options.TrustedNetworks,
		limiter:         server.NewConnectionLimiter("lmtp", options.MaxConnections, options.MaxConnectionsPerIP),
	}

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Network = "tcp"
	s.Domain = options.Hostname
	s.LMTP = true
	s.MaxMessageBytes = options.MaxMessageSize
	s.ReadTimeout = options.ReadTimeout
	s.WriteTimeout = options.WriteTimeout
	if options.Debug != nil {
		s.Debug = options.Debug
	}
	backend.server = s

	return backend
}

func (b *LMTPServerBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := c.Conn().RemoteAddr().String()
	if !b.trustedNetworks.AllowsAddr(remote) {
		logger.Warn("LMTP: Connection rejected - not from trusted network", "remote", remote)
		return nil, &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Connections only allowed from trusted networks",
		}
	}

	release, err := b.limiter.Accept(c.Conn().RemoteAddr())
	if err != nil {
		logger.Warn("LMTP: Connection rejected", "remote", remote, "error", err)
		return nil, &smtp.SMTPError{
			Code:         421,
			EnhancedCode: smtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections, try again later",
		}
	}

	b.totalConnections.Add(1)
	active := b.activeConnections.Add(1)
	metrics.ConnectionsTotal.WithLabelValues("lmtp").Inc()
	metrics.ConnectionsCurrent.WithLabelValues("lmtp").Inc()

	sessionCtx, cancel := context.WithCancel(b.appCtx)
	s := &LMTPSession{
		backend:   b,
		ctx:       sessionCtx,
		cancel:    cancel,
		release:   release,
		id:        idgen.New(),
		remote:    remote,
		startTime: time.Now(),
	}
	s.log("new session", "active", active)
	return s, nil
}

// Start listens on the configured address and serves until Close. Errors
// other than a shutdown are sent to errChan.
func (b *LMTPServerBackend) Start(errChan chan error) {
	listener, err := net.Listen(b.server.Network, b.server.Addr)
	if err != nil {
		errChan <- fmt.Errorf("failed to create LMTP listener: %w", err)
		return
	}
	logger.Info("LMTP server listening", "addr", listener.Addr().String())

	if err := b.Serve(listener); err != nil {
		errChan <- err
	}
}

// Serve accepts connections on l until Close.
func (b *LMTPServerBackend) Serve(l net.Listener) error {
	err := b.server.Serve(l)
	if err == nil || errors.Is(err, smtp.ErrServerClosed) || b.appCtx.Err() != nil {
		logger.Info("LMTP server stopped gracefully")
		return nil
	}
	return fmt.Errorf("LMTP server error: %w", err)
}

func (b *LMTPServerBackend) Close() error {
	if b.server != nil {
		return b.server.Close()
	}
	return nil
}

// GetTotalConnections returns the cumulative number of accepted sessions.
func (b *LMTPServerBackend) GetTotalConnections() int64 {
	return b.totalConnections.Load()
}

// GetActiveConnections returns the number of open sessions.
func (b *LMTPServerBackend) GetActiveConnections() int64 {
	return b.activeConnections.Load()
}
