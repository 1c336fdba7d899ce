package gateway

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/basket/taskmaster/internal/config"
	"github.com/basket/taskmaster/internal/otel"
)

const (
	janitorEvery = 5 * time.Minute
	clientIdle   = 15 * time.Minute
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter gives every caller its own limiter, keyed by API token or,
// for anonymous callers, by remote IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *otel.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter returns a limiter that admits everything when
// RequestsPerSecond is zero.
func NewRateLimiter(cfg config.RateLimitConfig, metrics *otel.Metrics, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.RequestsPerSecond)) + 1
	}
	return &RateLimiter{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		metrics: metrics,
		logger:  logger,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *RateLimiter) enabled() bool { return l.limit > 0 }

// Clients is the number of callers currently tracked.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Forget drops callers idle for longer than idle and reports how many went.
func (l *RateLimiter) Forget(idle time.Duration) int {
	cutoff := time.Now().Add(-idle).UnixNano()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, c := range l.clients {
		if c.lastSeen.Load() < cutoff {
			delete(l.clients, key)
			n++
		}
	}
	return n
}

// RunJanitor calls Forget on a timer until ctx is done.
func (l *RateLimiter) RunJanitor(ctx context.Context, every, idle time.Duration) {
	if !l.enabled() {
		return
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Forget(idle); n > 0 {
					l.logger.Debug("rate limiter forgot idle clients", "forgotten", n, "tracked", l.Clients())
				}
			}
		}
	}()
}

func (l *RateLimiter) client(key string) *rate.Limiter {
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	l.mu.Unlock()
	c.lastSeen.Store(time.Now().UnixNano())
	return c.lim
}

// Middleware answers 429 with a Retry-After (in whole seconds, at least 1)
// once a caller has spent its burst. /healthz is never limited.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if !l.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		res := l.client(callerKey(r)).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			l.metrics.RecordRateLimitReject(r.Context())
			secs := max(1, int(math.Ceil(delay.Seconds())))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeErrorBody(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if cred := presentedCredential(r); cred.token != "" {
		return "key:" + cred.token
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return "ip:" + host
	}
	return "ip:" + r.RemoteAddr
}
