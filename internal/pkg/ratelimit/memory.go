package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"housingworkshop/internal/pkg/metrics"
)

type entry struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
}

// MemoryLimiter keeps counters in process memory. It is only correct when a
// single API instance serves all traffic; use RedisLimiter otherwise.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

func NewMemoryLimiter(logger *slog.Logger) *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryLimiter) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if err := rule.Validate(); err != nil {
		return Decision{}, err
	}
	k := rule.key(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e := m.entries[k]
	if e != nil && now.Before(e.blockedUntil) {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.blockedUntil}, nil
	}

	if e == nil || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(rule.Window)}
		m.entries[k] = e
		return Decision{Allowed: true, Remaining: rule.Max - 1, ResetAt: e.resetAt}, nil
	}

	if e.count >= rule.Max {
		if rule.Block > 0 {
			e.blockedUntil = now.Add(rule.Block)
			return Decision{Allowed: false, Remaining: 0, ResetAt: e.blockedUntil}, nil
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
	}

	e.count++
	return Decision{Allowed: true, Remaining: rule.Max - e.count, ResetAt: e.resetAt}, nil
}

// Sweep 删除窗口与封禁均已过期的条目，返回删除数量。
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if now.After(e.resetAt) && !now.Before(e.blockedUntil) {
			delete(m.entries, k)
			removed++
		}
	}
	metrics.RateLimitEntries.Set(float64(len(m.entries)))
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 && m.logger != nil {
					m.logger.Debug("rate limit entries swept", slog.Int("removed", n))
				}
			}
		}
	}()
}
