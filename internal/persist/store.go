// Package persist implements the schema-versioned JSON document store.
// Its one user in this tree is the Telegram sink, which keeps its bound
// chat ID here; the rate limiter, margin guard, lifecycle engines,
// edit watcher and command interpreter keep their state in memory
// only. Writes are
// never in-place; each Save writes a temp file, syncs it, and renames it
// over the target so a crash mid-write never leaves a half-written
// document for a reader to pick up.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Document is the schema-versioned envelope every persisted file uses.
type Document struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Store reads and writes one JSON document per concern under a base
// directory. One Store instance is safe for concurrent use by the single
// owning actor it belongs to; it is not meant to be shared across actors.
type Store struct {
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persist: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save serializes payload as the Document's payload, version-stamps it,
// and atomically replaces the named document.
func (s *Store) Save(name string, version int, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", name, err)
	}
	doc := Document{Version: version, UpdatedAt: time.Now().UTC(), Payload: raw}
	full, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal document %s: %w", name, err)
	}

	target := s.path(name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("persist: create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(full); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: write temp for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persist: fsync temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist: close temp for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("persist: rename into place for %s: %w", name, err)
	}
	return nil
}

// Load reads the named document into out. Missing files are reported via
// os.IsNotExist on the returned error. Corrupted documents are moved
// aside to a ".corrupt" sibling and reported rather than silently
// accepted, per the restore-on-start policy.
func (s *Store) Load(name string, out interface{}) error {
	target := s.path(name)
	raw, err := os.ReadFile(target)
	if err != nil {
		return err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.quarantine(target)
		return fmt.Errorf("persist: corrupt document %s, quarantined: %w", name, err)
	}
	if err := json.Unmarshal(doc.Payload, out); err != nil {
		s.quarantine(target)
		return fmt.Errorf("persist: corrupt payload %s, quarantined: %w", name, err)
	}
	return nil
}

func (s *Store) quarantine(target string) {
	_ = os.Rename(target, target+".corrupt")
}
