package transcriptstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func appendAndList(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	msgs := []chat.Message{
		{ID: "u1", ConversationID: "c1", Role: chat.RoleUser, Content: "hello", CreatedAt: base},
		{ID: "a1", ConversationID: "c1", Role: chat.RoleAssistant, Content: "hi there", TokensUsed: 12,
			Metadata: map[string]any{"provider": "openai"}, CreatedAt: base.Add(time.Second)},
		{ID: "x1", ConversationID: "c2", Role: chat.RoleUser, Content: "other conv", CreatedAt: base},
	}
	for _, m := range msgs {
		require.NoError(t, store.Append(ctx, m))
	}

	got, err := store.List(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].ID)
	assert.Equal(t, "a1", got[1].ID)
	assert.Equal(t, chat.RoleAssistant, got[1].Role)
	assert.Equal(t, 12, got[1].TokensUsed)
	assert.Equal(t, "openai", got[1].Metadata["provider"])

	got, err = store.List(ctx, "c2", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "other conv", got[0].Content)

	require.Error(t, store.Append(ctx, chat.Message{ConversationID: "c1"}))
	require.Error(t, store.Append(ctx, chat.Message{ID: "m"}))
}

func TestInMemoryStore_AppendAndList(t *testing.T) {
	store := NewInMemoryStore()
	defer func() { _ = store.Close() }()
	appendAndList(t, store)
}

func TestSQLiteStore_AppendAndList(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)
	store, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	appendAndList(t, store)
}

func TestInMemoryStore_ListLimitKeepsNewest(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, chat.Message{
			ID: string(rune('a' + i)), ConversationID: "c1", Role: chat.RoleUser, Content: "m",
		}))
	}
	got, err := store.List(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].ID)
	assert.Equal(t, "e", got[1].ID)
}
