package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type rateRecord struct {
	count  int
	reset  time.Time
	window time.Duration
}

// RateLimiter tracks per-key request usage within a sliding window. Guards
// the unauthenticated registration endpoint against token guessing.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateRecord
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string]rateRecord)}
}

// Allow returns true if the caller may proceed under the provided limit and
// window.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	now := time.Now()
	rl.mu.Lock()
	rec := rl.entries[key]
	if rec.window == 0 || now.After(rec.reset) {
		rec.count = 0
		rec.window = window
		rec.reset = now.Add(window)
	}
	if rec.count >= limit {
		rl.mu.Unlock()
		return false
	}
	rec.count++
	rl.entries[key] = rec
	rl.mu.Unlock()
	return true
}

// rateLimited wraps a handler with a per-key limit. The key function picks
// the dimension to limit on (client IP for registration).
func (s *Server) rateLimited(name string, limit int, window time.Duration, key func(*gin.Context) string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		k := name + ":" + key(c)
		if !s.rateLimiter.Allow(k, limit, window) {
			respondError(c, http.StatusTooManyRequests, "rate limit exceeded", s.logger)
			return
		}
		handler(c)
	}
}

type RateLimiterStats struct {
	Keys int `json:"keys"`
}

func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{Keys: len(rl.entries)}
}
