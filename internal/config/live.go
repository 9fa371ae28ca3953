package config

import "sync"

// Live is the in-memory settings record shared by the supervisor, the
// broadcast loop and the transport. Updates are persisted through Store.
type Live struct {
	mu    sync.RWMutex
	cur   Settings
	store *Store
}

// NewLive wraps s. A nil store keeps updates in memory only.
func NewLive(s Settings, store *Store) *Live {
	return &Live{cur: s.Clone(), store: store}
}

// Get returns a copy of the current settings.
func (l *Live) Get() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur.Clone()
}

// Update applies u, persists the result and returns it. On a save error the
// in-memory value is left unchanged.
func (l *Live) Update(u SettingsUpdate) (Settings, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := u.Apply(l.cur)
	if l.store != nil {
		if err := l.store.SaveSettings(next); err != nil {
			return l.cur.Clone(), err
		}
	}
	l.cur = next
	return next.Clone(), nil
}

// Set replaces the settings without persisting; used when the file itself
// changed on disk.
func (l *Live) Set(s Settings) {
	l.mu.Lock()
	l.cur = s.Clone()
	l.mu.Unlock()
}
