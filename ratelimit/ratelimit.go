// Package ratelimit gates requests per connection over a quota window.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the per-connection quota: Limit requests per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// Limiter charges one token per request per connection. A fresh connection
// can spend its full quota immediately; tokens refill continuously so that
// the quota holds over any window of the configured length.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New builds a limiter. Limit and Window must be positive.
func New(cfg Config) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow charges one request for connID. On denial it returns the time until
// the next token becomes available; the denied request is not charged.
func (l *Limiter) Allow(connID string) (bool, time.Duration) {
	l.mu.Lock()
	b := l.buckets[connID]
	if b == nil {
		perSecond := float64(l.limit) / l.window.Seconds()
		b = rate.NewLimiter(rate.Limit(perSecond), l.limit)
		l.buckets[connID] = b
	}
	l.mu.Unlock()

	r := b.Reserve()
	if !r.OK() {
		return false, l.window
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// Remove drops the bucket for a closed connection.
func (l *Limiter) Remove(connID string) {
	l.mu.Lock()
	delete(l.buckets, connID)
	l.mu.Unlock()
}

// Len returns the number of tracked connections.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
