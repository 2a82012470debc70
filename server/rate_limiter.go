package main

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/haasonsaas/areuok/pkg/apperr"
)

type rateRecord struct {
	count int
	reset time.Time
}

// RateLimiter counts per-key requests in fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateRecord
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string]rateRecord), now: time.Now}
}

// Allow returns true if the caller may proceed under the provided limit and window.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec := rl.entries[key]
	if rec.reset.IsZero() || !now.Before(rec.reset) {
		rec = rateRecord{reset: now.Add(window)}
	}
	if rec.count >= limit {
		rl.entries[key] = rec
		return false
	}
	rec.count++
	rl.entries[key] = rec
	return true
}

// Sweep drops windows that have already closed.
func (rl *RateLimiter) Sweep() int {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, rec := range rl.entries {
		if !now.Before(rec.reset) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

type RateLimiterStats struct {
	Keys int `json:"keys"`
}

func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return RateLimiterStats{Keys: len(rl.entries)}
}

// rateLimited limits a route per client IP to perMinute requests.
func (s *Server) rateLimited(bucket string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(bucket+"|"+c.ClientIP(), perMinute, time.Minute) {
			respondError(c, apperr.ErrRateLimited, s.logger)
			return
		}
		c.Next()
	}
}
