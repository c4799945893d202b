package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
)

// Budget caps LLM calls per provider and overall within a rolling daily window.
type Budget struct {
	mu        sync.Mutex
	used      map[string]int
	limits    map[string]int
	total     int
	maxTotal  int
	period    time.Duration
	resetTime time.Time
	now       func() time.Time
}

// NewBudget creates a budget. A zero limit means unlimited.
func NewBudget(limits map[string]int, maxTotal int) *Budget {
	b := &Budget{
		used:     make(map[string]int),
		limits:   make(map[string]int, len(limits)),
		maxTotal: maxTotal,
		period:   24 * time.Hour,
		now:      time.Now,
	}
	for name, limit := range limits {
		b.limits[name] = limit
	}
	b.resetTime = b.now().Add(b.period)
	return b
}

// Allow reports whether one more call to provider fits in the budget.
func (b *Budget) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	return b.exceeded(provider) == nil
}

// Use records one call to provider, failing when the budget is spent.
func (b *Budget) Use(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()
	if err := b.exceeded(provider); err != nil {
		logger.Warn("LLM budget reached", "provider", provider, "used", b.used[provider], "total", b.total)
		return err
	}

	b.used[provider]++
	b.total++
	logger.Debug("LLM usage", "provider", provider, "used", b.used[provider], "limit", b.limits[provider], "total", b.total, "max_total", b.maxTotal)
	return nil
}

// GetStats returns current budget statistics
func (b *Budget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]interface{}{
		"total_used":  b.total,
		"total_limit": b.maxTotal,
		"reset_time":  b.resetTime,
	}
	for name, limit := range b.limits {
		stats[name+"_used"] = b.used[name]
		stats[name+"_limit"] = limit
	}
	return stats
}

func (b *Budget) exceeded(provider string) error {
	if limit := b.limits[provider]; limit > 0 && b.used[provider] >= limit {
		return fmt.Errorf("%s rate limit exceeded (%d/%d)", provider, b.used[provider], limit)
	}
	if b.maxTotal > 0 && b.total >= b.maxTotal {
		return fmt.Errorf("total AI rate limit exceeded (%d/%d)", b.total, b.maxTotal)
	}
	return nil
}

// checkReset resets counters if reset time has passed
func (b *Budget) checkReset() {
	now := b.now()
	if now.After(b.resetTime) {
		logger.Info("Resetting LLM budget counters", "total_used", b.total)
		b.used = make(map[string]int)
		b.total = 0
		b.resetTime = now.Add(b.period)
	}
}
