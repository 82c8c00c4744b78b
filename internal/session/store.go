package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StateStore loads and persists session state.
type StateStore interface {
	Load() (*State, error)
	Persist(*State) error
}

// FileStateStore keeps session state in a JSON document. Every persist
// writes to a temp file and renames it over the live one, so a crash between
// mutation and persist is never observable by a later load.
type FileStateStore struct {
	path string
}

// NewFileStateStore constructs a file-backed state store.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Load reads the persisted state; returns (nil, nil) when none exists.
func (s *FileStateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}
	return &state, nil
}

// Persist atomically replaces the state document.
func (s *FileStateStore) Persist(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}
