package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileStore keeps each document as a pretty-printed JSON file under a root
// directory. Writes go to a temp file in the same directory followed by an
// atomic rename, and a per-store mutex serializes read-modify-write
// sequences so a payment check never observes a partially replaced book.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating data directory %s", root)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, name+".json")
}

// Load reads the named document into v.
func (s *FileStore) Load(_ context.Context, name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return errors.Wrapf(err, "reading document %s", name)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decoding document %s", name)
	}
	return nil
}

// Save replaces the named document with v.
func (s *FileStore) Save(_ context.Context, name string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding document %s", name)
	}

	tmp, err := os.CreateTemp(s.root, name+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "writing document %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "closing document %s", name)
	}

	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "replacing document %s", name)
	}
	return nil
}
