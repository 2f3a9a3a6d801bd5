// Package registry tracks live connections and their observable metadata.
package registry

import (
	"sort"
	"sync"
	"time"
)

// Metadata mirrors the observable state of one connection. It is eventually
// consistent with the owning worker: the worker publishes every audited
// change before sending the next response.
type Metadata struct {
	ConnectionID           string
	RemoteAddress          string
	ConnectedAt            time.Time
	Authenticated          bool
	UserID                 string
	Roles                  []string
	StoreSubscriptionCount int
	RulesSubscriptionCount int
}

// Registry is a process-wide map of connection IDs to metadata. It is
// read-dominant and safe for concurrent mutation from many workers. No lock
// is ever held across I/O.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Metadata
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Metadata)}
}

// Register adds a connection. Re-registering an existing id replaces it.
func (r *Registry) Register(id, remoteAddr string) {
	now := time.Now()
	r.mu.Lock()
	r.conns[id] = &Metadata{
		ConnectionID:  id,
		RemoteAddress: remoteAddr,
		ConnectedAt:   now,
	}
	r.mu.Unlock()
}

// UpdateAuth publishes a session change. Empty userID means unauthenticated.
func (r *Registry) UpdateAuth(id string, authenticated bool, userID string, roles []string) {
	r.mu.Lock()
	if m := r.conns[id]; m != nil {
		m.Authenticated = authenticated
		m.UserID = userID
		m.Roles = append([]string(nil), roles...)
	}
	r.mu.Unlock()
}

// UpdateSubscriptions publishes the current subscription counts.
func (r *Registry) UpdateSubscriptions(id string, storeCount, rulesCount int) {
	r.mu.Lock()
	if m := r.conns[id]; m != nil {
		m.StoreSubscriptionCount = storeCount
		m.RulesSubscriptionCount = rulesCount
	}
	r.mu.Unlock()
}

// Deregister removes a connection. Removing an unknown id is a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
}

// Lookup returns a copy of the metadata for id.
func (r *Registry) Lookup(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.conns[id]
	if m == nil {
		return Metadata{}, false
	}
	return copyMeta(m), true
}

// Snapshot returns copies of all connections, ordered by connection ID.
func (r *Registry) Snapshot() []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.conns))
	for _, m := range r.conns {
		out = append(out, copyMeta(m))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Stats captures aggregate counters across all connections.
type Stats struct {
	Connections        int
	Authenticated      int
	StoreSubscriptions int
	RulesSubscriptions int
}

// Stats returns a point-in-time view of the aggregate counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	s.Connections = len(r.conns)
	for _, m := range r.conns {
		if m.Authenticated {
			s.Authenticated++
		}
		s.StoreSubscriptions += m.StoreSubscriptionCount
		s.RulesSubscriptions += m.RulesSubscriptionCount
	}
	return s
}

func copyMeta(m *Metadata) Metadata {
	cp := *m
	cp.Roles = append([]string(nil), m.Roles...)
	return cp
}
