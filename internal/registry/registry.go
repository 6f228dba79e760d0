// Package registry tracks live call sessions by call SID so control
// endpoints can reach the session a request refers to. It replaces ambient
// global maps with one owned, synchronized type.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/voxwire/voxwire/internal/call"
)

var (
	// ErrNotFound means no live session exists for the call SID.
	ErrNotFound = errors.New("registry: call not found")
	// ErrTenantMismatch means the session exists but belongs to a
	// different tenant than the request claims.
	ErrTenantMismatch = errors.New("registry: tenant mismatch")
)

// Entry is one live call.
type Entry struct {
	Session   *call.Session
	TenantID  string
	CreatedAt time.Time
}

// pendingTTL is how long an answered call may take to open its media stream
// before its pre-registration is discarded.
const pendingTTL = time.Hour

// pending is a call that has been answered but whose media stream has not
// connected yet.
type pending struct {
	tenantID  string
	createdAt time.Time
}

// Registry is a synchronized call-SID to session map. Safe for concurrent
// use; the zero value is not usable, construct with New.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	pendings map[string]pending
}

func New() *Registry {
	return &Registry{
		entries:  make(map[string]Entry),
		pendings: make(map[string]pending),
	}
}

// Put registers a live session under its call SID, replacing any stale
// entry for the same SID.
func (r *Registry) Put(callSid string, sess *call.Session, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[callSid] = Entry{Session: sess, TenantID: tenantID, CreatedAt: time.Now()}
}

// Get returns the entry for callSid.
func (r *Registry) Get(callSid string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callSid]
	return e, ok
}

// Remove drops the entry for callSid. Removing an absent SID is a no-op.
func (r *Registry) Remove(callSid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, callSid)
}

// PutPending records the tenant of an answered call before its media stream
// connects, so the stream can be attributed even when the provider strips
// custom parameters. Stale pre-registrations are pruned as a side effect.
func (r *Registry) PutPending(callSid, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-pendingTTL)
	for sid, p := range r.pendings {
		if p.createdAt.Before(cutoff) {
			delete(r.pendings, sid)
		}
	}
	r.pendings[callSid] = pending{tenantID: tenantID, createdAt: time.Now()}
}

// TakePending consumes the pre-registration for callSid, if one exists.
func (r *Registry) TakePending(callSid string) (tenantID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pendings[callSid]
	if !ok {
		return "", false
	}
	delete(r.pendings, callSid)
	return p.tenantID, true
}

// Len returns the number of live calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Authorize resolves callSid for a control request made on behalf of
// tenantID. A session registered without a tenant accepts any request; a
// session with a tenant only accepts requests naming that tenant.
func (r *Registry) Authorize(callSid, tenantID string) (*call.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[callSid]
	if !ok {
		return nil, ErrNotFound
	}
	if e.TenantID != "" && e.TenantID != tenantID {
		return nil, ErrTenantMismatch
	}
	return e.Session, nil
}
