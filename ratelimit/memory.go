package ratelimit

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultViolationThreshold is how many denied requests within the
	// violation horizon escalate to a temporary hard block.
	DefaultViolationThreshold = 5

	// DefaultViolationHorizon is the trailing period over which violations
	// accumulate before the counter resets.
	DefaultViolationHorizon = 10 * time.Minute

	// DefaultBlockDuration is how long an escalated block lasts. The block
	// is independent of window resets and applies to subsequent windows.
	DefaultBlockDuration = 15 * time.Minute

	// DefaultMaxEntries bounds the number of tracked keys; least recently
	// used entries are evicted beyond it.
	DefaultMaxEntries = 10000

	// defaultCleanupInterval is how often the background sweep removes
	// entries whose window and block have both long expired.
	defaultCleanupInterval = 5 * time.Minute
)

// window is the per-key sliding-window state (reset-timestamp variant).
type window struct {
	key              string
	count            int
	windowResetAt    time.Time
	violationCount   int
	firstViolationAt time.Time
	blockedUntil     time.Time
	lastAccess       time.Time
}

// MemoryConfig tunes a MemoryLimiter.
type MemoryConfig struct {
	ViolationThreshold int
	ViolationHorizon   time.Duration
	BlockDuration      time.Duration
	MaxEntries         int
	CleanupInterval    time.Duration

	// Clock overrides the time source (tests only).
	Clock Clock
}

// MemoryLimiter is the process-local sliding-window limiter. On first
// request for a key it opens a window; within the window it counts; once
// the reset timestamp passes it opens a new window. Requests beyond the
// limit are denied and counted as violations instead; enough violations
// within the horizon escalate to a temporary hard ban that short-circuits
// every check until it elapses.
//
// This is intentionally approximate and single-instance: correctness under
// horizontal scaling is not guaranteed. The store is bounded by LRU
// eviction plus a periodic sweep so distinct client identities cannot grow
// it without bound.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lruList *list.List

	cfg    MemoryConfig
	clock  Clock
	logger *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once

	totalDenied    int64
	totalBlocked   int64
	totalEvictions int64
}

// NewMemoryLimiter creates a limiter with default settings.
func NewMemoryLimiter(logger *slog.Logger) *MemoryLimiter {
	return NewMemoryLimiterWithConfig(MemoryConfig{}, logger)
}

// NewMemoryLimiterWithConfig creates a limiter with custom tuning. Zero
// values fall back to the defaults.
func NewMemoryLimiterWithConfig(cfg MemoryConfig, logger *slog.Logger) *MemoryLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = DefaultViolationThreshold
	}
	if cfg.ViolationHorizon <= 0 {
		cfg.ViolationHorizon = DefaultViolationHorizon
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}

	l := &MemoryLimiter{
		entries:     make(map[string]*list.Element),
		lruList:     list.New(),
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Check applies the sliding-window algorithm for key. The triggering
// request of a denial is not counted toward the next window, so count
// never exceeds limit.
func (l *MemoryLimiter) Check(key string, limit int, windowDur time.Duration) Decision {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	elem, exists := l.entries[key]
	if !exists {
		if l.cfg.MaxEntries > 0 && len(l.entries) >= l.cfg.MaxEntries {
			l.evictLRU()
		}
		w := &window{
			key:           key,
			count:         1,
			windowResetAt: now.Add(windowDur),
			lastAccess:    now,
		}
		l.entries[key] = l.lruList.PushFront(w)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1}
	}

	l.lruList.MoveToFront(elem)
	w := elem.Value.(*window)
	w.lastAccess = now

	// An active block short-circuits everything; counters stay untouched.
	if w.blockedUntil.After(now) {
		l.totalDenied++
		return Decision{Allowed: false, Limit: limit, RetryAfter: w.blockedUntil.Sub(now), Blocked: true}
	}

	// Violations age out once the tracking horizon passes.
	if w.violationCount > 0 && now.Sub(w.firstViolationAt) > l.cfg.ViolationHorizon {
		w.violationCount = 0
		w.firstViolationAt = time.Time{}
	}

	if now.After(w.windowResetAt) {
		// New window; violation state carries over.
		w.count = 1
		w.windowResetAt = now.Add(windowDur)
		return Decision{Allowed: true, Limit: limit, Remaining: limit - 1}
	}

	if w.count < limit {
		w.count++
		return Decision{Allowed: true, Limit: limit, Remaining: limit - w.count}
	}

	// Over the limit: record a violation instead of a request.
	l.totalDenied++
	if w.violationCount == 0 {
		w.firstViolationAt = now
	}
	w.violationCount++

	retryAfter := w.windowResetAt.Sub(now)
	escalated := false
	if w.violationCount >= l.cfg.ViolationThreshold {
		w.blockedUntil = now.Add(l.cfg.BlockDuration)
		w.violationCount = 0
		w.firstViolationAt = time.Time{}
		retryAfter = l.cfg.BlockDuration
		escalated = true
		l.totalBlocked++
		l.logger.Warn("rate limit block escalated",
			"key", key,
			"blocked_until", w.blockedUntil,
			"block_duration", l.cfg.BlockDuration)
	}

	return Decision{Allowed: false, Limit: limit, RetryAfter: retryAfter, Blocked: escalated}
}

// evictLRU removes the least recently used entry. Caller holds the mutex.
func (l *MemoryLimiter) evictLRU() {
	elem := l.lruList.Back()
	if elem == nil {
		return
	}
	w := elem.Value.(*window)
	delete(l.entries, w.key)
	l.lruList.Remove(elem)
	l.totalEvictions++
}

func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// Cleanup removes entries whose window has long expired and whose block has
// passed.
func (l *MemoryLimiter) Cleanup() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	var next *list.Element
	for elem := l.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		w := elem.Value.(*window)
		stale := now.Sub(w.windowResetAt) > l.cfg.ViolationHorizon
		if stale && !w.blockedUntil.After(now) {
			delete(l.entries, w.key)
			l.lruList.Remove(elem)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("rate limiter sweep completed",
			"removed", removed, "remaining", len(l.entries))
	}
}

// Stop terminates the background sweep.
func (l *MemoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

// MemoryStats reports limiter occupancy for monitoring.
type MemoryStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalDenied    int64
	TotalBlocked   int64
	TotalEvictions int64
}

// Stats returns current limiter statistics.
func (l *MemoryLimiter) Stats() MemoryStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return MemoryStats{
		CurrentEntries: len(l.entries),
		MaxEntries:     l.cfg.MaxEntries,
		TotalDenied:    l.totalDenied,
		TotalBlocked:   l.totalBlocked,
		TotalEvictions: l.totalEvictions,
	}
}
