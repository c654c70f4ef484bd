package transcriptstore

import (
	"context"

	"github.com/go-go-golems/parley/pkg/chat"
)

// Store is the durable transcript projection: finalized messages appended
// in commit order, retrievable per conversation. The streaming reducer
// writes to it best-effort; it is never consulted mid-stream.
type Store interface {
	Append(ctx context.Context, msg chat.Message) error
	List(ctx context.Context, convID string, limit int) ([]chat.Message, error)
	Close() error
}
