// Package audit records admin-tier operations in a fixed-size ring buffer.
package audit

import (
	"sync"
	"time"
)

// Tier classifies an operation for audit filtering.
type Tier string

const (
	TierRead  Tier = "read"
	TierWrite Tier = "write"
	TierAdmin Tier = "admin"
)

// Result is the audited outcome of an operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Entry is one audited operation. Entries are append-only and ring-buffered.
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"userId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Operation     string         `json:"operation"`
	Resource      string         `json:"resource,omitempty"`
	Result        Result         `json:"result"`
	Error         string         `json:"error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	RemoteAddress string         `json:"remoteAddress,omitempty"`
}

// Sink receives each accepted entry synchronously. It runs outside the log's
// internal lock, so it may call back into the log.
type Sink func(Entry)

// Config controls which tiers are recorded and how many entries are kept.
type Config struct {
	Tiers      []Tier // Audited tiers; defaults to {admin}.
	MaxEntries int    // Ring capacity; defaults to 10000.
	OnEntry    Sink   // Optional synchronous sink.
}

// DefaultMaxEntries is the ring capacity used when Config.MaxEntries is zero.
const DefaultMaxEntries = 10000

// Log is a fixed-capacity ring of audit entries, safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	head    int // Next write slot.
	size    int // Occupied slots.
	tiers   map[Tier]bool
	sink    Sink
}

// New builds a Log from cfg, filling defaults for zero values.
func New(cfg Config) *Log {
	max := cfg.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = []Tier{TierAdmin}
	}
	set := make(map[Tier]bool, len(tiers))
	for _, tr := range tiers {
		set[tr] = true
	}
	return &Log{
		entries: make([]Entry, max),
		tiers:   set,
		sink:    cfg.OnEntry,
	}
}

// Audited reports whether operations of the given tier are recorded.
func (l *Log) Audited(tier Tier) bool {
	return l.tiers[tier]
}

// Append records an entry if its tier is audited. The oldest entry is
// overwritten when the ring is full. Returns true when the entry was accepted.
func (l *Log) Append(tier Tier, e Entry) bool {
	if !l.tiers[tier] {
		return false
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.mu.Lock()
	l.entries[l.head] = e
	l.head = (l.head + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(e)
	}
	return true
}

// Size returns the number of retained entries.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Filter selects entries; all set fields are conjunctive.
type Filter struct {
	UserID    string
	Operation string
	Result    Result
	From      time.Time // Inclusive lower bound.
	To        time.Time // Inclusive upper bound.
	Limit     int       // Applied after filtering; 0 means no limit.
}

// Query returns matching entries newest-first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for i := 0; i < l.size; i++ {
		// Walk backwards from the most recent slot.
		idx := (l.head - 1 - i + len(l.entries) + len(l.entries)) % len(l.entries)
		e := l.entries[idx]
		if !f.matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (f Filter) matches(e Entry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}
