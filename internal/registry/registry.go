// Package registry implements the Session Registry: the single
// process-wide, mutex-protected lookup of live Endpoint Sessions keyed by
// (local_id, remote_id, role), preventing session hijack by refusing a
// second insert over an existing pair.
package registry

import (
	"errors"
	"sync"
)

// ErrDuplicate is returned by Insert when a session already exists for the
// given key.
var ErrDuplicate = errors.New("registry: session already exists for this pair")

// Role distinguishes which side of a pair this device is playing, since the
// exclusivity invariant is scoped per role: a device can be the
// active party in one session and the passive party in another with the
// same peer without conflict.
type Role int

const (
	RoleActive Role = iota
	RolePassive
)

func (r Role) String() string {
	if r == RoleActive {
		return "active"
	}
	return "passive"
}

// Key identifies one Endpoint Session slot.
type Key struct {
	LocalID  int64
	RemoteID int64
	Role     Role
}

// Registry is the process-wide session table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu       sync.Mutex
	sessions map[Key]any
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[Key]any)}
}

// Insert registers session under key. It returns ErrDuplicate — without
// touching the existing entry — if a session is already registered for that
// key.
func (r *Registry) Insert(key Key, session any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[key]; exists {
		return ErrDuplicate
	}
	r.sessions[key] = session
	return nil
}

// Remove deletes the entry for key, if any. It is a no-op if no session is
// registered there.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}

// With runs fn with the session registered at key, holding the registry
// mutex for the duration — fn must not call back into the Registry. Returns
// false if no session is registered at key.
func (r *Registry) With(key Key, fn func(session any)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[key]
	if !ok {
		return false
	}
	fn(session)
	return true
}

// Len reports the number of live sessions. Intended for diagnostics/tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
