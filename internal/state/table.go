package state

import (
	"sort"
	"sync"
	"time"
)

// Table holds one Runtime per service name.
type Table struct {
	mu   sync.RWMutex
	recs map[string]*Runtime
	now  func() time.Time
}

// NewTable returns an empty table using the wall clock.
func NewTable() *Table {
	return &Table{recs: make(map[string]*Runtime), now: time.Now}
}

// WithClock replaces the clock used by records created afterwards.
func (t *Table) WithClock(now func() time.Time) *Table {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
	return t
}

// Ensure returns the record for name, creating it when missing.
func (t *Table) Ensure(name string) *Runtime {
	t.mu.RLock()
	r, ok := t.recs[name]
	t.mu.RUnlock()
	if ok {
		return r
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok = t.recs[name]; ok {
		return r
	}
	r = newRuntime(t.now)
	t.recs[name] = r
	return r
}

// Get returns the record for name.
func (t *Table) Get(name string) (*Runtime, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.recs[name]
	return r, ok
}

// Delete drops the record for name.
func (t *Table) Delete(name string) {
	t.mu.Lock()
	delete(t.recs, name)
	t.mu.Unlock()
}

// Retain drops every record whose name is not in keep.
func (t *Table) Retain(keep []string) {
	set := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		set[k] = struct{}{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.recs {
		if _, ok := set[name]; !ok {
			delete(t.recs, name)
		}
	}
}

// Names lists the tracked names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.recs))
	for n := range t.recs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.recs)
}
