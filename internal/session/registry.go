package session

import (
	"sync"
	"sync/atomic"
)

// Registry maps session ids to live sessions. Operations on distinct ids do
// not block each other.
type Registry struct {
	sessions sync.Map // map[string]*Session
	count    atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterIfAbsent stores s under id unless id is already taken, and
// reports whether it did.
func (r *Registry) RegisterIfAbsent(id string, s *Session) bool {
	if _, loaded := r.sessions.LoadOrStore(id, s); loaded {
		return false
	}
	r.count.Add(1)
	return true
}

// Lookup returns the session registered under id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Remove deletes id and returns the session that was registered under it.
func (r *Registry) Remove(id string) (*Session, bool) {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	r.count.Add(-1)
	return v.(*Session), true
}

// RemoveIf deletes id only while it still maps to s.
func (r *Registry) RemoveIf(id string, s *Session) bool {
	if !r.sessions.CompareAndDelete(id, s) {
		return false
	}
	r.count.Add(-1)
	return true
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Range calls fn for each registered session until fn returns false.
func (r *Registry) Range(fn func(id string, s *Session) bool) {
	r.sessions.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Session))
	})
}
