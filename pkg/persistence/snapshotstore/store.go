package snapshotstore

import (
	"context"

	"github.com/go-go-golems/parley/pkg/chat"
)

// Snapshot is the persisted layout of a session's transient streaming
// state. It is written after every state-affecting event and read once at
// startup to rehydrate a stream interrupted by a reload.
type Snapshot struct {
	IsStreaming        bool            `json:"isStreaming"`
	StreamingContent   string          `json:"streamingContent"`
	StreamingMessageID *string         `json:"streamingMessageId"`
	ActiveToolCalls    []chat.ToolCall `json:"activeToolCalls"`
}

// Store is the injected persistence port for session snapshots. Snapshots
// are keyed by conversation id under a fixed namespace; writes are
// idempotent overwrites.
type Store interface {
	Save(ctx context.Context, convID string, snap Snapshot) error
	Load(ctx context.Context, convID string) (Snapshot, bool, error)
	Clear(ctx context.Context, convID string) error
}

// Key returns the namespaced storage key for a conversation's snapshot.
func Key(convID string) string { return "parley:session:" + convID }
