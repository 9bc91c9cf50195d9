package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a fixed-window request limiter keyed by client (IP or user).
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	now          func() time.Time

	requestsPerWindow int
	window            time.Duration
	cleanupInterval   time.Duration

	rejected int64
}

type clientInfo struct {
	windowStart time.Time
	lastRequest time.Time
	requests    int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	CleanupInterval   time.Duration
}

// DefaultConfig allows 60 requests per minute per client.
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 60,
		Window:            time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewLimiter creates a limiter and starts its stale-entry sweeper. Call Stop
// to release it.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = def.RequestsPerWindow
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	rl := &Limiter{
		clients:           make(map[string]*clientInfo),
		stopCleanup:       make(chan struct{}),
		now:               time.Now,
		requestsPerWindow: config.RequestsPerWindow,
		window:            config.Window,
		cleanupInterval:   config.CleanupInterval,
	}
	go rl.startCleanup()
	return rl
}

// Allow reports whether one more request from key fits in its current window.
func (rl *Limiter) Allow(key string) bool {
	ok, _ := rl.take(key)
	return ok
}

// take consumes one request for key and, when refused, returns how long until
// the window resets.
func (rl *Limiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, exists := rl.clients[key]
	if !exists || now.Sub(client.windowStart) >= rl.window {
		rl.clients[key] = &clientInfo{windowStart: now, lastRequest: now, requests: 1}
		return true, 0
	}

	client.lastRequest = now
	if client.requests >= rl.requestsPerWindow {
		atomic.AddInt64(&rl.rejected, 1)
		return false, client.windowStart.Add(rl.window).Sub(now)
	}
	client.requests++
	return true, 0
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanupStaleEntries drops clients idle for longer than two windows.
func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-2 * rl.window)
	removed := 0
	for key, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	Rejected    int64
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		Rejected:    atomic.LoadInt64(&rl.rejected),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// Middleware limits every request passing through it by the key returned
// from keyFunc. onLimit writes the refusal; a plain 429 is sent when nil.
func (rl *Limiter) Middleware(keyFunc func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retry := rl.take(keyFunc(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
