// Package ratelimit provides per-caller rate limiting middleware using a
// token bucket algorithm.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/smorand/easy-deck/internal/middleware"
)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the rate limit (tokens added per second).
	RequestsPerSecond float64
	// BurstSize is the maximum number of tokens (burst capacity).
	BurstSize int
	// IdleTimeout drops buckets not used for this long.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		IdleTimeout:       10 * time.Minute,
		Logger:            slog.Default(),
	}
}

// TokenBucket implements a token bucket rate limiter.
type TokenBucket struct {
	tokens         float64
	maxTokens      float64
	refillRate     float64 // tokens per second
	lastRefillTime time.Time
	mu             sync.Mutex
}

// NewTokenBucket creates a full bucket with the given rate and burst size.
func NewTokenBucket(refillRate float64, burstSize int, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:         float64(burstSize),
		maxTokens:      float64(burstSize),
		refillRate:     refillRate,
		lastRefillTime: now,
	}
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefillTime)
	if elapsed > 0 {
		tb.tokens = math.Min(tb.maxTokens, tb.tokens+tb.refillRate*elapsed.Seconds())
		tb.lastRefillTime = now
	}
}

// Allow consumes a token if one is available. It returns whether the request
// is allowed, the tokens left, and how long to wait when it is not.
func (tb *TokenBucket) Allow(now time.Time) (allowed bool, remaining int, retryAfter time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill(now)

	if tb.tokens >= 1 {
		tb.tokens--
		return true, int(tb.tokens), 0
	}

	tokensNeeded := 1 - tb.tokens
	retryAfter = time.Duration(tokensNeeded/tb.refillRate*float64(time.Second)) + time.Millisecond
	return false, 0, retryAfter
}

// Limit returns the maximum burst size.
func (tb *TokenBucket) Limit() int {
	return int(tb.maxTokens)
}

func (tb *TokenBucket) idleSince() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastRefillTime
}

// Limiter keeps one bucket per caller: the authenticated user when known,
// the client address otherwise.
type Limiter struct {
	config    Config
	buckets   map[string]*TokenBucket
	lastPrune time.Time
	mu        sync.Mutex
}

// New creates a new rate limiter with the given configuration.
func New(config Config) *Limiter {
	defaults := DefaultConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Limiter{
		config:    config,
		buckets:   make(map[string]*TokenBucket),
		lastPrune: config.Now(),
	}
}

// bucket returns the caller's bucket, creating it on first use. Idle buckets
// are pruned at most once per IdleTimeout.
func (l *Limiter) bucket(key string, now time.Time) *TokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= l.config.IdleTimeout {
		for k, b := range l.buckets {
			if now.Sub(b.idleSince()) >= l.config.IdleTimeout {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = NewTokenBucket(l.config.RequestsPerSecond, l.config.BurstSize, now)
		l.buckets[key] = b
	}
	return b
}

// Size returns how many callers currently have a bucket.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// callerKey must run after the identity middleware to see the user.
func callerKey(r *http.Request) string {
	if userID := middleware.UserID(r.Context()); userID != "" {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Middleware returns an HTTP middleware that applies rate limiting.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := l.config.Now()
		key := callerKey(r)
		bucket := l.bucket(key, now)

		allowed, remaining, retryAfter := bucket.Allow(now)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(bucket.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retrySeconds := int(math.Ceil(retryAfter.Seconds()))
			l.config.Logger.Warn("rate limit exceeded",
				slog.String("caller", key),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_after", retryAfter),
			)

			w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":       "rate limit exceeded",
				"code":        "RATE_LIMITED",
				"retry_after": retrySeconds,
			})
			return
		}

		next(w, r)
	}
}
