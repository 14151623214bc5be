// Package health tracks the liveness of mailfeed's external dependencies.
//
// Each registered check runs on its own ticker. A failing check is degraded
// until half of its runs have failed, then unhealthy. The overall status is
// unhealthy when any critical check is unhealthy and degraded when any check
// is degraded.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/migadu/mailfeed/logger"
	"github.com/migadu/mailfeed/pkg/circuitbreaker"
	"github.com/migadu/mailfeed/pkg/metrics"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 10 * time.Second
)

// Check is a named probe of one dependency.
type Check struct {
	Name     string
	Critical bool
	Interval time.Duration
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// CheckStatus is the last observed state of a check.
type CheckStatus struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Critical  bool      `json:"critical"`
	LastCheck time.Time `json:"last_check,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
}

type entry struct {
	check Check

	mu        sync.Mutex
	status    Status
	lastCheck time.Time
	lastErr   error
	runs      int
	failures  int
}

func (e *entry) snapshot() CheckStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs := CheckStatus{
		Name:      e.check.Name,
		Status:    e.status,
		Critical:  e.check.Critical,
		LastCheck: e.lastCheck,
		Runs:      e.runs,
		Failures:  e.failures,
	}
	if e.lastErr != nil {
		cs.LastError = e.lastErr.Error()
	}
	return cs
}

type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor() *Monitor {
	return &Monitor{entries: make(map[string]*entry)}
}

// RegisterCheck adds c to the monitor. Checks registered after Start are
// only run by RunNow.
func (m *Monitor) RegisterCheck(c Check) {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	m.mu.Lock()
	m.entries[c.Name] = &entry{check: c, status: StatusHealthy}
	m.mu.Unlock()
	metrics.ComponentHealthStatus.WithLabelValues(c.Name).Set(statusValue(StatusHealthy))
}

// Start runs every check once and then on its interval until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, e := range m.list() {
		m.wg.Add(1)
		go m.loop(ctx, e)
	}
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// RunNow runs every check synchronously.
func (m *Monitor) RunNow(ctx context.Context) {
	for _, e := range m.list() {
		m.run(ctx, e)
	}
}

func (m *Monitor) loop(ctx context.Context, e *entry) {
	defer m.wg.Done()
	ticker := time.NewTicker(e.check.Interval)
	defer ticker.Stop()

	m.run(ctx, e)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.run(ctx, e)
		}
	}
}

func (m *Monitor) run(ctx context.Context, e *entry) {
	ctx, cancel := context.WithTimeout(ctx, e.check.Timeout)
	defer cancel()

	err := safeCall(ctx, e.check.Fn)

	e.mu.Lock()
	previous := e.status
	e.runs++
	e.lastCheck = time.Now()
	e.lastErr = err
	if err != nil {
		e.failures++
		if float64(e.failures)/float64(e.runs) >= 0.5 {
			e.status = StatusUnhealthy
		} else {
			e.status = StatusDegraded
		}
	} else {
		e.status = StatusHealthy
	}
	current := e.status
	e.mu.Unlock()

	metrics.HealthChecksTotal.WithLabelValues(e.check.Name, string(current)).Inc()
	metrics.ComponentHealthStatus.WithLabelValues(e.check.Name).Set(statusValue(current))

	switch {
	case err != nil:
		logger.Warn("HEALTH: Check failed", "check", e.check.Name, "status", current, "error", err)
	case previous != current:
		logger.Info("HEALTH: Check recovered", "check", e.check.Name, "from", previous)
	}
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (m *Monitor) list() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].check.Name < out[j].check.Name })
	return out
}

// Statuses returns the state of every check ordered by name.
func (m *Monitor) Statuses() []CheckStatus {
	entries := m.list()
	out := make([]CheckStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Overall folds the check states into one status.
func (m *Monitor) Overall() Status {
	overall := StatusHealthy
	for _, cs := range m.Statuses() {
		switch {
		case cs.Status == StatusUnhealthy && cs.Critical:
			return StatusUnhealthy
		case cs.Status != StatusHealthy:
			overall = StatusDegraded
		}
	}
	return overall
}

func statusValue(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Pinger is anything that can verify its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck probes p on every run.
func PingCheck(name string, p Pinger, critical bool) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Fn:       p.Ping,
	}
}

// BreakerCheck fails while the breaker reported by state is open. A
// half-open breaker counts as healthy since it is already probing.
func BreakerCheck(name string, state func() circuitbreaker.State, critical bool) Check {
	return Check{
		Name:     name,
		Critical: critical,
		Interval: 5 * time.Second,
		Fn: func(context.Context) error {
			if s := state(); s == circuitbreaker.StateOpen {
				return fmt.Errorf("circuit breaker is %s", s)
			}
			return nil
		},
	}
}
