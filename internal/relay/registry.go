package relay

import (
	"context"
	"sync"
)

type entry struct {
	handle    *Handle
	simCancel context.CancelFunc
}

// Registry maps session identities to their active process handle. All
// handle mutation funnels through the Supervisor, which serializes work on
// a single session key via Lock so that a hot replace can never interleave
// with a concurrent stop. Distinct sessions proceed concurrently.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	keys    map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		keys:    make(map[string]*keyLock),
	}
}

// Lock acquires the mutation lock for one session key and returns the
// matching release function. Only one Lock holder per key exists at a time;
// holders of different keys never contend.
func (r *Registry) Lock(sessionID string) func() {
	r.mu.Lock()
	kl := r.keys[sessionID]
	if kl == nil {
		kl = &keyLock{}
		r.keys[sessionID] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		r.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(r.keys, sessionID)
		}
		r.mu.Unlock()
	}
}

// Handle returns the active handle for sessionID, or nil.
func (r *Registry) Handle(sessionID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ent := r.entries[sessionID]; ent != nil {
		return ent.handle
	}
	return nil
}

// Sessions lists the identities with an active handle.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of active handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// register installs the handle for sessionID. Callers must hold the
// session's key lock.
func (r *Registry) register(sessionID string, h *Handle, simCancel context.CancelFunc) {
	r.mu.Lock()
	r.entries[sessionID] = &entry{handle: h, simCancel: simCancel}
	r.mu.Unlock()
}

// remove deletes and returns the entry for sessionID, or nil. Callers must
// hold the session's key lock.
func (r *Registry) remove(sessionID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent := r.entries[sessionID]
	delete(r.entries, sessionID)
	return ent
}

// removeIf deletes the entry for sessionID only while it still holds h,
// which keeps the asynchronous exit observer idempotent with explicit stops
// and safe against hot replaces. Callers must hold the session's key lock.
func (r *Registry) removeIf(sessionID string, h *Handle) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent := r.entries[sessionID]
	if ent == nil || ent.handle != h {
		return nil
	}
	delete(r.entries, sessionID)
	return ent
}
