// Package throttle implements the two abuse throttles: a keyed
// exponential-backoff counter for repeated failed logins and a generic
// sliding-window rate limiter for endpoint-level abuse.
package throttle

import (
	"strings"
	"sync"
	"time"
)

const (
	// backoffBase is the delay after the first failed attempt
	backoffBase = 100 * time.Millisecond
	// backoffCap bounds the recommended delay
	backoffCap = 5 * time.Second
	// backoffIdleTTL is how long a counter may sit idle before the sweep
	// evicts it. Without eviction a long-running process accumulates a
	// counter per (ip, email) pair forever.
	backoffIdleTTL = time.Hour
)

// LoginKey builds the backoff key for an (ip, email) pair. The email is
// normalized so "A@B.com " and "a@b.com" share a counter.
func LoginKey(ip, email string) string {
	return ip + "|" + strings.ToLower(strings.TrimSpace(email))
}

type backoffEntry struct {
	failCount     int
	lastAttemptAt time.Time
}

// LoginBackoff tracks failed login attempts per key and recommends an
// exponentially growing delay. It only computes the delay; enforcing it
// before the next attempt is the caller's responsibility.
type LoginBackoff struct {
	mu      sync.Mutex
	entries map[string]*backoffEntry
	done    chan struct{}
}

// NewLoginBackoff creates a LoginBackoff and starts its eviction sweep
func NewLoginBackoff() *LoginBackoff {
	b := &LoginBackoff{
		entries: make(map[string]*backoffEntry),
		done:    make(chan struct{}),
	}
	go b.sweep()
	return b
}

// RegisterFail records a failed attempt for the key and returns the
// recommended delay before the next attempt: min(2^count * 100ms, 5s).
func (b *LoginBackoff) RegisterFail(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		entry = &backoffEntry{}
		b.entries[key] = entry
	}
	entry.failCount++
	entry.lastAttemptAt = time.Now()

	return delayFor(entry.failCount)
}

// RetryAfter returns how long the caller should still wait before
// accepting another attempt for the key: the recommended delay from the
// last failure, minus the time already elapsed. Zero means no wait.
func (b *LoginBackoff) RetryAfter(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		return 0
	}

	wait := delayFor(entry.failCount) - time.Since(entry.lastAttemptAt)
	if wait < 0 {
		return 0
	}
	return wait
}

// Reset clears the counter for the key, typically after a successful login
func (b *LoginBackoff) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// FailCount returns the current failure count for the key
func (b *LoginBackoff) FailCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.entries[key]; ok {
		return entry.failCount
	}
	return 0
}

// Close stops the eviction sweep
func (b *LoginBackoff) Close() {
	close(b.done)
}

// sweep evicts counters whose last attempt is older than the idle TTL
func (b *LoginBackoff) sweep() {
	ticker := time.NewTicker(backoffIdleTTL / 4)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-backoffIdleTTL)
			b.mu.Lock()
			for key, entry := range b.entries {
				if entry.lastAttemptAt.Before(cutoff) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}

// delayFor computes min(2^count * backoffBase, backoffCap)
func delayFor(count int) time.Duration {
	// 2^6 * 100ms already exceeds the cap, so anything larger saturates
	if count >= 6 {
		return backoffCap
	}
	d := backoffBase << uint(count)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
