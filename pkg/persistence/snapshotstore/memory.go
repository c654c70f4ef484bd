package snapshotstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore keeps snapshots in a process-local map. Used in tests and
// as the default when no durable store is configured.
type InMemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snaps: map[string]Snapshot{}}
}

func (s *InMemoryStore) Save(_ context.Context, convID string, snap Snapshot) error {
	if s == nil {
		return errors.New("in-memory snapshot store: nil store")
	}
	if convID == "" {
		return errors.New("in-memory snapshot store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[Key(convID)] = snap
	return nil
}

func (s *InMemoryStore) Load(_ context.Context, convID string) (Snapshot, bool, error) {
	if s == nil {
		return Snapshot{}, false, errors.New("in-memory snapshot store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[Key(convID)]
	return snap, ok, nil
}

func (s *InMemoryStore) Clear(_ context.Context, convID string) error {
	if s == nil {
		return errors.New("in-memory snapshot store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, Key(convID))
	return nil
}
