package smtp

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is how long a client address is remembered without
// connecting again.
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// connLimiter limits new connections per client IP.
type connLimiter struct {
	perMinute int

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

func newConnLimiter(perMinute int) *connLimiter {
	return &connLimiter{
		perMinute: perMinute,
		limiters:  make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

// Allow reports whether a connection from addr may proceed.
func (l *connLimiter) Allow(addr net.Addr) bool {
	ip := clientIP(addr)
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdle {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.limiters[ip]
	if !ok {
		interval := time.Minute / time.Duration(l.perMinute)
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(interval), l.perMinute)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
