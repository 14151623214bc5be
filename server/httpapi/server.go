// Package httpapi accepts raw RFC 5322 messages over HTTP for deployments
// that cannot speak LMTP, and reports service health.
//
//	POST /v1/messages   raw message body, returns the updated feed
//	GET  /health        component health, 503 when unhealthy
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/migadu/mailfeed/feed"
	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/health"
	"github.com/migadu/mailfeed/server"
	"github.com/migadu/mailfeed/server/delivery"
)

const shutdownTimeout = 5 * time.Second

// Deliverer applies a raw message to its feed.
type Deliverer interface {
	Deliver(ctx context.Context, source string, raw []byte) (*feed.Result, error)
}

// HealthReporter exposes the state of the health monitor.
type HealthReporter interface {
	Overall() health.Status
	Statuses() []health.CheckStatus
}

type ServerOptions struct {
	Addr           string
	AllowedHosts   server.Networks
	MaxMessageSize int64
}

type Server struct {
	addr           string
	allowedHosts   server.Networks
	maxMessageSize int64
	deliverer      Deliverer
	health         HealthReporter
	server         *http.Server
}

// MessageResponse describes the feed a message was written to.
type MessageResponse struct {
	DeliveryID string `json:"delivery_id"`
	FeedKey    string `json:"feed_key"`
	FeedURL    string `json:"feed_url"`
	EntryID    string `json:"entry_id"`
	Created    bool   `json:"created"`
	Entries    int    `json:"entries"`
	Evicted    int    `json:"evicted"`
}

type HealthResponse struct {
	Status health.Status        `json:"status"`
	Checks []health.CheckStatus `json:"checks"`
}

// New returns a server. healthReporter may be nil, in which case /health
// always reports healthy.
func New(deliverer Deliverer, healthReporter HealthReporter, options ServerOptions) *Server {
	return &Server{
		addr:           options.Addr,
		allowedHosts:   options.AllowedHosts,
		maxMessageSize: options.MaxMessageSize,
		deliverer:      deliverer,
		health:         healthReporter,
	}
}

// Start serves until ctx is cancelled. Failures other than a clean shutdown
// are sent to errChan.
func Start(ctx context.Context, deliverer Deliverer, healthReporter HealthReporter, options ServerOptions, errChan chan error) {
	s := New(deliverer, healthReporter, options)
	logger.Info("HTTP API: Starting server", "addr", options.Addr)
	if err := s.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("HTTP API: Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP API: Error shutting down server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", s.handleDeliver).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("HTTP API: Request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "status", rec.status, "duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// allowedHostsMiddleware matches the peer address only. Forwarding headers
// are ignored since any client can set them.
func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allowedHosts.AllowsAddr(r.RemoteAddr) {
			logger.Warn("HTTP API: Rejected client", "remote", r.RemoteAddr)
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if s.maxMessageSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxMessageSize)
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Message size exceeds maximum allowed size of %d bytes", s.maxMessageSize))
			return
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, "Request body must contain a message")
		return
	}

	ctx, id := delivery.WithDeliveryID(r.Context())
	w.Header().Set("X-Delivery-ID", id)

	res, err := s.deliverer.Deliver(ctx, "http", raw)
	switch {
	case err == nil:
	case delivery.IsRejection(err):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusServiceUnavailable, "Delivery interrupted, retry later")
		return
	default:
		s.writeError(w, http.StatusInternalServerError, "Failed to update feed")
		return
	}

	resp := MessageResponse{
		DeliveryID: id,
		FeedKey:    res.FeedKey,
		FeedURL:    res.FeedURL,
		EntryID:    res.EntryID,
		Created:    res.Created,
		Evicted:    len(res.Evicted),
	}
	if res.Feed != nil {
		resp.Entries = len(res.Feed.Entries)
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: health.StatusHealthy, Checks: []health.CheckStatus{}}
	if s.health != nil {
		resp.Status = s.health.Overall()
		resp.Checks = s.health.Statuses()
	}

	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("HTTP API: Error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
