package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when an operation names an unknown service.
	ErrNotFound = errors.New("service not found")
	// ErrDuplicate is returned when adding a name that is already registered.
	ErrDuplicate = errors.New("service already exists")
)

// Registry holds the registered specs in insertion order.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	specs []Spec
}

func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{}
	r.Replace(specs)
	return r
}

// List returns a copy of all specs in registry order.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Clone()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// Get returns the spec registered under name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(name); i >= 0 {
		return r.specs[i].Clone(), true
	}
	return Spec{}, false
}

// Add appends s. Names must be unique and non-empty.
func (r *Registry) Add(s Spec) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("service name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexLocked(s.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, s.Name)
	}
	r.specs = append(r.specs, s.Clone())
	return nil
}

// Remove deletes the named spec and returns it.
func (r *Registry) Remove(name string) (Spec, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(name)
	if i < 0 {
		return Spec{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	s := r.specs[i]
	r.specs = append(r.specs[:i:i], r.specs[i+1:]...)
	return s, nil
}

// Replace swaps the whole registry content. Later duplicates of a name are dropped.
func (r *Registry) Replace(specs []Spec) {
	seen := make(map[string]struct{}, len(specs))
	next := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if _, dup := seen[s.Name]; dup || s.Name == "" {
			continue
		}
		seen[s.Name] = struct{}{}
		next = append(next, s.Clone())
	}
	r.mu.Lock()
	r.specs = next
	r.mu.Unlock()
}

// ByKind returns the specs whose kind equals kind case-insensitively.
func (r *Registry) ByKind(kind string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Spec
	for _, s := range r.specs {
		if s.Kind.Is(kind) {
			out = append(out, s.Clone())
		}
	}
	return out
}

func (r *Registry) indexLocked(name string) int {
	for i := range r.specs {
		if r.specs[i].Name == name {
			return i
		}
	}
	return -1
}
