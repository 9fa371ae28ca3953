package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/svcdeck/internal/service"
)

const (
	ServicesFile = "services_config.json"
	SettingsFile = "settings.json"
)

// DefaultServices is the registry a first run writes.
func DefaultServices() []service.Spec {
	return []service.Spec{{
		Name:          "FastAPI Backend",
		Kind:          service.KindBackend,
		StartCmd:      "uvicorn main:app --host 0.0.0.0 --port 8000",
		MatchKeywords: []string{"uvicorn", "main:app"},
		Ports:         []int{8000},
		APIURL:        "http://localhost:8000",
		Description:   "Main backend API service",
	}}
}

// Store persists the service registry and settings as indented JSON files in
// Dir. A missing file is created with defaults on first load.
type Store struct {
	Dir string

	mu        sync.Mutex
	lastWrite map[string][]byte
}

func NewStore(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{Dir: dir, lastWrite: make(map[string][]byte)}
}

func (s *Store) ServicesPath() string { return filepath.Join(s.Dir, ServicesFile) }
func (s *Store) SettingsPath() string { return filepath.Join(s.Dir, SettingsFile) }

// LoadServices reads the registry file, writing DefaultServices when absent.
func (s *Store) LoadServices() ([]service.Spec, error) {
	b, err := os.ReadFile(s.ServicesPath())
	if errors.Is(err, fs.ErrNotExist) {
		def := DefaultServices()
		if err := s.SaveServices(def); err != nil {
			return nil, err
		}
		slog.Info("created default services file", "path", s.ServicesPath())
		return def, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeServices(b)
}

// DecodeServices parses a services file body.
func DecodeServices(b []byte) ([]service.Spec, error) {
	var specs []service.Spec
	if err := json.Unmarshal(b, &specs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ServicesFile, err)
	}
	for i := range specs {
		specs[i] = specs[i].Clone()
	}
	return specs, nil
}

func (s *Store) SaveServices(specs []service.Spec) error {
	out := make([]service.Spec, len(specs))
	for i, sp := range specs {
		out[i] = sp.Clone()
	}
	return s.write(s.ServicesPath(), out)
}

// LoadSettings reads settings.json, writing DefaultSettings when absent.
// Fields missing from the file keep their default values.
func (s *Store) LoadSettings() (Settings, error) {
	b, err := os.ReadFile(s.SettingsPath())
	if errors.Is(err, fs.ErrNotExist) {
		def := DefaultSettings()
		if err := s.SaveSettings(def); err != nil {
			return Settings{}, err
		}
		slog.Info("created default settings file", "path", s.SettingsPath())
		return def, nil
	}
	if err != nil {
		return Settings{}, err
	}
	st := DefaultSettings()
	if err := json.Unmarshal(b, &st); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", SettingsFile, err)
	}
	if st.StoragePaths == nil {
		st.StoragePaths = map[string]string{}
	}
	if st.ScheduledTasks == nil {
		st.ScheduledTasks = []json.RawMessage{}
	}
	return st, nil
}

func (s *Store) SaveSettings(st Settings) error {
	return s.write(s.SettingsPath(), st)
}

// IsOwnWrite reports whether body is exactly what the store last wrote to
// path, so file watchers can skip echoes of their own saves.
func (s *Store) IsOwnWrite(path string, body []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastWrite[filepath.Clean(path)]
	return ok && bytes.Equal(last, body)
}

// write replaces path atomically via a temp file in the same directory.
func (s *Store) write(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".svcdeck-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_ = tmp.Chmod(0o644)
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	s.lastWrite[filepath.Clean(path)] = b
	return nil
}
