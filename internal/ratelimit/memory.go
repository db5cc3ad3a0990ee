package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter - лимитер в памяти процесса, для одного инстанса и тестов
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	now     func() time.Time
	calls   int
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		entries: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// WithClock подменяет часы (для тестов)
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits := prune(l.entries[key], now.Add(-window))

	l.calls++
	if l.calls%1024 == 0 {
		l.sweep(now, window)
	}

	if len(hits) >= limit {
		l.entries[key] = hits
		retryAfter := time.Duration(0)
		if len(hits) > 0 {
			retryAfter = hits[0].Add(window).Sub(now)
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	hits = append(hits, now)
	l.entries[key] = hits
	return Result{Allowed: true, Remaining: limit - len(hits)}, nil
}

// prune оставляет отметки строго новее границы окна
func prune(hits []time.Time, boundary time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(boundary) {
		i++
	}
	return hits[i:]
}

// sweep удаляет ключи без свежих отметок, чтобы карта не росла бесконечно
func (l *MemoryLimiter) sweep(now time.Time, window time.Duration) {
	for key, hits := range l.entries {
		if len(hits) == 0 || !hits[len(hits)-1].After(now.Add(-window)) {
			delete(l.entries, key)
		}
	}
}
