package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func calls(ids ...string) []*chat.ToolCall {
	out := make([]*chat.ToolCall, 0, len(ids))
	for _, id := range ids {
		out = append(out, &chat.ToolCall{ID: id, Name: "search", Status: chat.ToolCallRunning})
	}
	return out
}

func TestCorrelator_IdMatchWinsOverName(t *testing.T) {
	c := newCorrelator()
	tcs := calls("a", "b", "c")

	got := c.find(tcs, "c", "search")
	require.NotNil(t, got)
	assert.Equal(t, "c", got.ID, "id match must be exact, not first-by-name")
}

func TestCorrelator_NameFallbackPicksFirstInInsertionOrder(t *testing.T) {
	c := newCorrelator()
	tcs := calls("a", "b")
	tcs[0].Status = chat.ToolCallCompleted // status does not matter for the fallback

	got := c.find(tcs, "", "search")
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
}

func TestCorrelator_NameFallbackCannotDoubleMatchWithinBatch(t *testing.T) {
	c := newCorrelator()
	tcs := calls("a", "b")

	first := c.find(tcs, "", "search")
	second := c.find(tcs, "", "search")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)

	// both claimed: a third id-less event matches nothing
	assert.Nil(t, c.find(tcs, "", "search"))

	// next batch starts fresh
	c.beginBatch()
	again := c.find(tcs, "", "search")
	require.NotNil(t, again)
	assert.Equal(t, "a", again.ID)
}

func TestCorrelator_NoIdNoKnownNameIsNoop(t *testing.T) {
	c := newCorrelator()
	tcs := calls("a")
	assert.Nil(t, c.find(tcs, "", "unknown-tool"))
	assert.Nil(t, c.find(tcs, "", ""))
	assert.Nil(t, c.find(nil, "", "search"))
}
