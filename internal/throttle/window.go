package throttle

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of a single Allow call. Remaining and Reset are
// observed in the same store operation as the admission decision, so one
// call is enough to answer a request and fill its rate-limit headers.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// WindowStore is the narrow counter interface behind the sliding-window
// limiter. The in-process implementation suits a single process; a
// shared store (Redis) makes the limit apply across replicas without
// touching call sites. Allow must be atomic with respect to concurrent
// calls on the same key: admissions past the limit are exactly the
// lost-update failure the limiter exists to prevent.
type WindowStore interface {
	// Allow decides whether another hit for key is permitted given the
	// limit and window, recording the hit when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	// Remaining reports how many hits are left in the current window.
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
	// Reset returns when the current window for key ends.
	Reset(ctx context.Context, key string, window time.Duration) (time.Time, error)
}

// MemoryWindowStore implements WindowStore with an in-process
// synchronized map of per-key hit timestamps.
type MemoryWindowStore struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	maxWindow time.Duration
	done      chan struct{}
}

// NewMemoryWindowStore creates a MemoryWindowStore and starts its
// cleanup goroutine.
func NewMemoryWindowStore(sweepEvery time.Duration) *MemoryWindowStore {
	s := &MemoryWindowStore{
		hits: make(map[string][]time.Time),
		done: make(chan struct{}),
	}
	go s.cleanup(sweepEvery)
	return s
}

// Allow implements WindowStore
func (s *MemoryWindowStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if window > s.maxWindow {
		s.maxWindow = window
	}

	now := time.Now()
	valid := pruneOld(s.hits[key], now.Add(-window))

	if len(valid) >= limit {
		s.hits[key] = valid
		return Result{Reset: oldestOf(valid).Add(window)}, nil
	}

	valid = append(valid, now)
	s.hits[key] = valid
	return Result{
		Allowed:   true,
		Remaining: limit - len(valid),
		Reset:     oldestOf(valid).Add(window),
	}, nil
}

// Remaining implements WindowStore
func (s *MemoryWindowStore) Remaining(_ context.Context, key string, limit int, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := pruneOld(s.hits[key], time.Now().Add(-window))
	remaining := limit - len(valid)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset implements WindowStore
func (s *MemoryWindowStore) Reset(_ context.Context, key string, window time.Duration) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := pruneOld(s.hits[key], time.Now().Add(-window))
	if len(valid) == 0 {
		return time.Now(), nil
	}
	return oldestOf(valid).Add(window), nil
}

// Close stops the cleanup goroutine
func (s *MemoryWindowStore) Close() {
	close(s.done)
}

// cleanup periodically drops keys whose hits have all aged out. The
// retention horizon is the largest window any caller has used, so a
// sweep never discards hits that still count against a limit.
func (s *MemoryWindowStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			horizon := s.maxWindow
			if horizon < every {
				horizon = every
			}
			cutoff := time.Now().Add(-horizon)
			for key, hits := range s.hits {
				valid := pruneOld(hits, cutoff)
				if len(valid) == 0 {
					delete(s.hits, key)
				} else {
					s.hits[key] = valid
				}
			}
			s.mu.Unlock()
		}
	}
}

// oldestOf returns the earliest of a non-empty hit slice
func oldestOf(hits []time.Time) time.Time {
	oldest := hits[0]
	for _, t := range hits[1:] {
		if t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}

func pruneOld(hits []time.Time, cutoff time.Time) []time.Time {
	var valid []time.Time
	for _, t := range hits {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// Limiter is a sliding-window rate limiter over a WindowStore
type Limiter struct {
	store  WindowStore
	limit  int
	window time.Duration
}

// NewLimiter creates a Limiter with a fixed limit and window
func NewLimiter(store WindowStore, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow decides whether another hit for key is permitted and reports the
// remaining budget and window reset alongside. Store errors fail closed:
// an unreachable shared store denies rather than letting abusive traffic
// through unmetered.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	res, err := l.store.Allow(ctx, key, l.limit, l.window)
	if err != nil {
		return Result{Reset: time.Now().Add(l.window)}
	}
	return res
}

// Remaining reports hits left in the current window for key
func (l *Limiter) Remaining(ctx context.Context, key string) int {
	n, err := l.store.Remaining(ctx, key, l.limit, l.window)
	if err != nil {
		return 0
	}
	return n
}

// Reset reports when the current window for key ends
func (l *Limiter) Reset(ctx context.Context, key string) time.Time {
	t, err := l.store.Reset(ctx, key, l.window)
	if err != nil {
		return time.Now().Add(l.window)
	}
	return t
}

// Limit returns the configured per-window limit
func (l *Limiter) Limit() int {
	return l.limit
}
