package delta

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks API rate limit quota from response headers.
type RateLimiter struct {
	remaining int
	limit     int
	lastSeen  time.Time
	mu        sync.RWMutex
}

// NewRateLimiter creates a rate limit tracker.
// limit: quota per window (Delta allows 10000 request-weight per 5 minutes).
func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{limit: limit, remaining: limit}
}

// UpdateFromHeaders updates quota from X-RATE-LIMIT-* response headers.
func (rl *RateLimiter) UpdateFromHeaders(limitHeader, remainingHeader string) {
	remaining, err := strconv.Atoi(remainingHeader)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limit, err := strconv.Atoi(limitHeader); err == nil && limit > 0 {
		rl.limit = limit
	}
	rl.remaining = remaining
	rl.lastSeen = time.Now()

	percentage := float64(rl.limit-rl.remaining) / float64(rl.limit) * 100
	if percentage >= 95 {
		log.Printf("rate limit critical: %d/%d used (%.1f%%)", rl.limit-rl.remaining, rl.limit, percentage)
	} else if percentage >= 80 {
		log.Printf("rate limit warning: %d/%d used (%.1f%%)", rl.limit-rl.remaining, rl.limit, percentage)
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	used = rl.limit - rl.remaining
	return used, rl.limit, float64(used) / float64(rl.limit) * 100
}

// ShouldDelay returns true if the next request should be delayed.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
