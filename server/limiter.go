package server

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/migadu/mailfeed/logger"
)

// ConnectionLimiter caps concurrent connections in total and per client IP.
// A limit of zero or less disables that check.
type ConnectionLimiter struct {
	protocol       string
	maxConnections int64
	maxPerIP       int64
	total          atomic.Int64
	perIP          *xsync.MapOf[string, int64]
}

// ConnectionStats is a snapshot of a limiter.
type ConnectionStats struct {
	Protocol         string
	TotalConnections int64
	MaxConnections   int64
	MaxPerIP         int64
	IPConnections    map[string]int64
}

func NewConnectionLimiter(protocol string, maxConnections, maxPerIP int) *ConnectionLimiter {
	return &ConnectionLimiter{
		protocol:       protocol,
		maxConnections: int64(maxConnections),
		maxPerIP:       int64(maxPerIP),
		perIP:          xsync.NewMapOf[string, int64](),
	}
}

// Accept registers a connection from remoteAddr. The returned func releases
// it and must be called exactly once.
func (cl *ConnectionLimiter) Accept(remoteAddr net.Addr) (func(), error) {
	if !cl.reserveTotal() {
		return nil, fmt.Errorf("maximum connections reached (%d)", cl.maxConnections)
	}

	ip := clientKey(remoteAddr)
	if cl.maxPerIP > 0 {
		admitted := false
		cl.perIP.Compute(ip, func(n int64, _ bool) (int64, bool) {
			if n >= cl.maxPerIP {
				return n, false
			}
			admitted = true
			return n + 1, false
		})
		if !admitted {
			cl.total.Add(-1)
			return nil, fmt.Errorf("maximum connections per IP reached for %s (%d)", ip, cl.maxPerIP)
		}
	}
	logger.Debug("Connection limiter: Connection accepted", "protocol", cl.protocol, "ip", ip, "total", cl.total.Load())

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		cl.total.Add(-1)
		if cl.maxPerIP > 0 {
			cl.perIP.Compute(ip, func(n int64, _ bool) (int64, bool) {
				return n - 1, n <= 1
			})
		}
	}, nil
}

func (cl *ConnectionLimiter) reserveTotal() bool {
	for {
		current := cl.total.Load()
		if cl.maxConnections > 0 && current >= cl.maxConnections {
			return false
		}
		if cl.total.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (cl *ConnectionLimiter) GetStats() ConnectionStats {
	stats := ConnectionStats{
		Protocol:         cl.protocol,
		TotalConnections: cl.total.Load(),
		MaxConnections:   cl.maxConnections,
		MaxPerIP:         cl.maxPerIP,
		IPConnections:    make(map[string]int64),
	}
	cl.perIP.Range(func(ip string, n int64) bool {
		stats.IPConnections[ip] = n
		return true
	})
	return stats
}

func clientKey(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	if ip := RemoteIP(addr.String()); ip != nil {
		return ip.String()
	}
	return addr.String()
}
