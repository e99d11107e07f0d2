package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"
	"time"
)

// Record is the persisted deploy marker of one app
type Record struct {
	LastCommit string `json:"last_commit"`
	LastDeploy string `json:"last_deploy"` // RFC 3339
}

// StateStore persists the last deployed revision of every app in a single
// JSON file. Every update rewrites the whole file.
type StateStore struct {
	path string
	mu   gosync.Mutex
	now  func() time.Time
}

// NewStateStore creates a store backed by the file at path
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path, now: time.Now}
}

// Path returns the backing file
func (s *StateStore) Path() string {
	return s.path
}

// Get returns the record of app. A missing file or entry reports ok=false.
func (s *StateStore) Get(app string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[app]
	if !ok || rec.LastCommit == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// All returns every stored record
func (s *StateStore) All() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Set records revision as the last deployed commit of app. The
// read-modify-write cycle is serialized so records of other apps are never
// lost. An unreadable file is replaced.
func (s *StateStore) Set(app, revision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		records = make(map[string]Record)
	}
	records[app] = Record{
		LastCommit: revision,
		LastDeploy: s.now().Format(time.RFC3339),
	}
	return s.save(records)
}

func (s *StateStore) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]Record), nil
		}
		return nil, fmt.Errorf("failed to read deploy state: %w", err)
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse deploy state %s: %w", s.path, err)
	}
	return records, nil
}

// save writes the records through a temp file and an atomic rename
func (s *StateStore) save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".deploy-state-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to write deploy state: %w", err)
	}
	return nil
}
