package transcriptstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/chat"
)

// InMemoryStore is the test/default implementation. It mirrors the
// ordering semantics of the SQLite store (append order per conversation)
// so swapping implementations does not change observable behavior.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[string][]chat.Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{convs: map[string][]chat.Message{}}
}

func (s *InMemoryStore) Append(_ context.Context, msg chat.Message) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	if msg.ID == "" {
		return errors.New("in-memory transcript store: message id is empty")
	}
	if msg.ConversationID == "" {
		return errors.New("in-memory transcript store: conversation id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[msg.ConversationID] = append(s.convs[msg.ConversationID], msg)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, convID string, limit int) ([]chat.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	if convID == "" {
		return nil, errors.New("in-memory transcript store: conversation id is empty")
	}
	if limit <= 0 {
		limit = 500
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.convs[convID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
