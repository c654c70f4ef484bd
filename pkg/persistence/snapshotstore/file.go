package snapshotstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FileStore persists snapshots as one JSON file per conversation under a
// base directory. Writes go through a temp file and rename so a crash
// mid-write never leaves a torn snapshot behind.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

var _ Store = &FileStore{}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file snapshot store: dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "file snapshot store: create dir")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(convID string) string {
	// the namespaced key doubles as the file name; colons are awkward on
	// some filesystems
	name := strings.ReplaceAll(Key(convID), ":", "_") + ".json"
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Save(_ context.Context, convID string, snap Snapshot) error {
	if s == nil {
		return errors.New("file snapshot store: nil store")
	}
	if convID == "" {
		return errors.New("file snapshot store: convID is empty")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "file snapshot store: marshal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(convID) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrap(err, "file snapshot store: write")
	}
	if err := os.Rename(tmp, s.path(convID)); err != nil {
		return errors.Wrap(err, "file snapshot store: rename")
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, convID string) (Snapshot, bool, error) {
	if s == nil {
		return Snapshot{}, false, errors.New("file snapshot store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path(convID))
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, errors.Wrap(err, "file snapshot store: read")
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return Snapshot{}, false, errors.Wrap(err, "file snapshot store: unmarshal")
	}
	return snap, true, nil
}

func (s *FileStore) Clear(_ context.Context, convID string) error {
	if s == nil {
		return errors.New("file snapshot store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(convID))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "file snapshot store: remove")
	}
	return nil
}
