// ABOUTME: Session persistence in a local JSON file.
// ABOUTME: Backs getCurrentSession across process runs; file is owner-readable only.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/verity-ai/verity/internal/provider"
)

// ErrNoSession indicates no persisted session exists.
var ErrNoSession = errors.New("no persisted session")

// FileStore persists the current session to a single JSON file so a new
// process can restore it. The file is written with 0600 permissions.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path. Parent directories
// are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted session. Returns ErrNoSession if the file does
// not exist.
func (f *FileStore) Load() (*provider.Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var sess provider.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// Save writes the session, replacing any previous one.
func (f *FileStore) Save(sess *provider.Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	return nil
}

// Clear removes the persisted session. Missing file is not an error.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}
