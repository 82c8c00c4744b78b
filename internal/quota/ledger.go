package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Ledger holds consumption counters keyed by calendar date (YYYY-MM-DD) and
// month (YYYY-MM). Counters only grow; new periods start at zero by key
// rollover, never by mutation.
type Ledger struct {
	Daily   map[string]int64 `json:"daily"`
	Monthly map[string]int64 `json:"monthly"`
	Total   int64            `json:"total"`
}

func newLedger() Ledger {
	return Ledger{
		Daily:   make(map[string]int64),
		Monthly: make(map[string]int64),
	}
}

// LedgerStore loads and persists the consumption ledger.
type LedgerStore interface {
	Load() (Ledger, error)
	Persist(Ledger) error
}

// FileLedgerStore keeps the ledger in a JSON document on disk. Writes go to
// a temp file followed by an atomic rename so a crash mid-write never leaves
// a truncated ledger behind.
type FileLedgerStore struct {
	path string
}

// NewFileLedgerStore constructs a file-backed ledger store.
func NewFileLedgerStore(path string) *FileLedgerStore {
	return &FileLedgerStore{path: path}
}

// Load reads the ledger, returning an empty one when the file is absent.
func (s *FileLedgerStore) Load() (Ledger, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return newLedger(), nil
		}
		return Ledger{}, fmt.Errorf("read quota ledger: %w", err)
	}

	var ledger Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return Ledger{}, fmt.Errorf("parse quota ledger: %w", err)
	}
	if ledger.Daily == nil {
		ledger.Daily = make(map[string]int64)
	}
	if ledger.Monthly == nil {
		ledger.Monthly = make(map[string]int64)
	}
	return ledger, nil
}

// Persist writes the ledger atomically.
func (s *FileLedgerStore) Persist(ledger Ledger) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quota ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write quota ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace quota ledger: %w", err)
	}
	return nil
}
