package snapshotstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func sampleSnapshot() Snapshot {
	msgID := "m1"
	pct := 48
	return Snapshot{
		IsStreaming:        true,
		StreamingContent:   "Hello wor",
		StreamingMessageID: &msgID,
		ActiveToolCalls: []chat.ToolCall{
			{ID: "tc1", Name: "search", Status: chat.ToolCallProgress, ProgressPct: &pct, Detail: "scanning"},
		},
	}
}

func roundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.False(t, ok)

	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, "conv-1", want))

	got, ok, err := store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.IsStreaming, got.IsStreaming)
	assert.Equal(t, want.StreamingContent, got.StreamingContent)
	require.NotNil(t, got.StreamingMessageID)
	assert.Equal(t, *want.StreamingMessageID, *got.StreamingMessageID)
	require.Len(t, got.ActiveToolCalls, 1)
	assert.Equal(t, want.ActiveToolCalls[0].ID, got.ActiveToolCalls[0].ID)
	require.NotNil(t, got.ActiveToolCalls[0].ProgressPct)
	assert.Equal(t, 48, *got.ActiveToolCalls[0].ProgressPct)

	// idempotent overwrite
	want.StreamingContent = "Hello world"
	require.NoError(t, store.Save(ctx, "conv-1", want))
	got, ok, err = store.Load(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hello world", got.StreamingContent)

	require.NoError(t, store.Clear(ctx, "conv-1"))
	_, ok, err = store.Load(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// clearing twice is fine
	require.NoError(t, store.Clear(ctx, "conv-1"))
}

func TestInMemoryStore_RoundTrip(t *testing.T) {
	roundTrip(t, NewInMemoryStore())
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	roundTrip(t, store)
}

func TestFileStore_EmptyDirRejected(t *testing.T) {
	_, err := NewFileStore("  ")
	require.Error(t, err)
}

func TestInMemoryStore_RejectsEmptyConvID(t *testing.T) {
	require.Error(t, NewInMemoryStore().Save(context.Background(), "", Snapshot{}))
}
