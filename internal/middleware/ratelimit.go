package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/Benevox/rapidpro/internal/errors"
)

// KeyFunc picks the bucket a request is counted against
type KeyFunc func(r *http.Request) string

// KeyByIP buckets requests by client address. Use after RealIP.
func KeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per key with a token bucket each
type RateLimiter struct {
	rps     rate.Limit
	burst   int
	keyFunc KeyFunc
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// bursts of burst for each key
func NewRateLimiter(rps float64, burst int, keyFunc KeyFunc, logger *slog.Logger) *RateLimiter {
	if keyFunc == nil {
		keyFunc = KeyByIP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFunc:  keyFunc,
		idleTTL:  10 * time.Minute,
		logger:   logger,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idleTTL {
			delete(rl.visitors, k)
		}
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Handler implements rate limiting middleware
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)
		reservation := rl.limiter(key).ReserveN(rl.now(), 1)
		if !reservation.OK() {
			rl.reject(w, r, key, time.Second)
			return
		}
		if delay := reservation.DelayFrom(rl.now()); delay > 0 {
			reservation.CancelAt(rl.now())
			rl.reject(w, r, key, delay)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, key string, retryAfter time.Duration) {
	rl.logger.WarnContext(r.Context(), "rate limit exceeded",
		"method", r.Method,
		"path", r.URL.Path,
		"key", key,
	)
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	apierrors.WriteError(w, apierrors.ErrRateLimitExceeded)
}

// Visitors returns the number of tracked keys
func (rl *RateLimiter) Visitors() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}
