// Package statefile persists small flat state records as whole-file JSON
// under the cwarden state directory. Records are loaded wholesale, mutated
// in memory, and written back wholesale; there is no partial-update API.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CurrentID is the boundary-level default record id. Core packages always
// receive an explicit id; "current" is applied by the CLI layer.
const CurrentID = "current"

// Store reads and writes JSON records keyed by kind and id.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on the
// first write, not here.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(kind, id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.json", kind, id))
}

// Load reads the record into v. A missing or unreadable file reports
// ok=false with a nil error: corrupt state is treated as absent, never
// fatal, so callers reinitialize silently.
func (s *Store) Load(kind, id string, v any) (ok bool, err error) {
	data, err := os.ReadFile(s.path(kind, id))
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, nil
	}
	return true, nil
}

// Save writes the record atomically via a temp file and rename.
func (s *Store) Save(kind, id string, v any) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s state: %w", kind, err)
	}

	path := s.path(kind, id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s state: %w", kind, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s state: %w", kind, err)
	}
	return nil
}

// Remove deletes the record if present.
func (s *Store) Remove(kind, id string) error {
	err := os.Remove(s.path(kind, id))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
