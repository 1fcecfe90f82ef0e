// Package backoff implements the exponential-backoff schedules used by the
// kernel's process-restart limiter (§4.1) and the provider pool's
// health-check retry task (§4.2), each driven by a ticker/stopCh retry loop.
package backoff

import (
	"sync"
	"time"
)

// Schedule is the provider pool's health-check retry schedule from
// §3: 2,4,8,16,32,60,60,... minutes, capped at the last step.
var Schedule = []time.Duration{
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	16 * time.Minute,
	32 * time.Minute,
	60 * time.Minute,
}

// StepFor returns the backoff duration for the given zero-based failure
// count, capped at Schedule's last entry.
func StepFor(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	if failures >= len(Schedule) {
		return Schedule[len(Schedule)-1]
	}
	return Schedule[failures]
}

// Limiter rate-limits a keyed action (restart-by-ProcessId, retry-by-
// provider-name) using an exponential schedule, so a crash loop or a
// persistently offline peer cannot livelock the node.
type Limiter struct {
	mu       sync.Mutex
	failures map[string]int
	lastTry  map[string]time.Time
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		failures: make(map[string]int),
		lastTry:  make(map[string]time.Time),
	}
}

// Allow reports whether key may be retried now, given its accumulated
// failure count and the time of its last attempt.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.lastTry[key]
	if !ok {
		return true
	}
	wait := StepFor(l.failures[key])
	return time.Since(last) >= wait
}

// RecordFailure marks key as having failed again at the current time,
// advancing its backoff step.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[key]++
	l.lastTry[key] = time.Now()
}

// Reset clears key's failure history, e.g. after a successful retry.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.failures, key)
	delete(l.lastTry, key)
}

// Failures returns the current failure count for key.
func (l *Limiter) Failures(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[key]
}
