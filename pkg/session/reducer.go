package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/chat"
	"github.com/go-go-golems/parley/pkg/persistence/snapshotstore"
	"github.com/go-go-golems/parley/pkg/persistence/transcriptstore"
	"github.com/go-go-golems/parley/pkg/wire"
)

// SessionError is the last server-signaled application error, kept for the
// surrounding UI to display and branch on.
type SessionError struct {
	Detail string
	Code   string
}

// Reducer applies inbound wire events to conversation state. It is a state
// machine over {idle, streaming}: at most one streaming session exists at a
// time, and a new stream_start implicitly discards any residual one.
//
// Events must be applied in arrival order; chunk accumulation is
// order-dependent. The session feeds the reducer from a single consume
// goroutine, so each event runs to completion before the next one.
type Reducer struct {
	mu     sync.RWMutex
	convID string

	title      string
	transcript []chat.Message
	lastErr    *SessionError

	streaming          bool
	streamingMessageID string
	content            strings.Builder
	usingFreeLLM       bool
	provider           string
	toolCalls          []*chat.ToolCall
	corr               *correlator

	snapshots   snapshotstore.Store
	transcripts transcriptstore.Store
}

// NewReducer builds a reducer for one conversation. Both stores are
// optional; a nil snapshot store disables state mirroring and a nil
// transcript store disables durable persistence.
func NewReducer(convID string, snapshots snapshotstore.Store, transcripts transcriptstore.Store) *Reducer {
	return &Reducer{
		convID:      convID,
		corr:        newCorrelator(),
		snapshots:   snapshots,
		transcripts: transcripts,
	}
}

// Apply processes a single event.
func (r *Reducer) Apply(ctx context.Context, ev wire.Event) {
	r.ApplyAll(ctx, []wire.Event{ev})
}

// ApplyAll processes a batch of events in order. Name-based tool-call
// correlation claims are scoped to one batch: two id-less events in the
// same batch can never land on the same record.
func (r *Reducer) ApplyAll(ctx context.Context, evs []wire.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corr.beginBatch()
	for _, ev := range evs {
		if ev == nil {
			continue
		}
		r.applyLocked(ctx, ev)
	}
}

func (r *Reducer) applyLocked(ctx context.Context, ev wire.Event) {
	switch e := ev.(type) {
	case *wire.StreamStart:
		r.applyStreamStart(e)
	case *wire.StreamChunk:
		r.applyStreamChunk(e)
	case *wire.StreamEnd:
		r.applyStreamEnd(ctx, e)
	case *wire.StreamCancelled:
		r.applyStreamCancelled()
	case *wire.ToolCallStart:
		r.applyToolCallStart(e)
	case *wire.ToolCallState:
		r.applyToolCallState(e)
	case *wire.ToolCallEnd:
		r.applyToolCallEnd(e)
	case *wire.TitleUpdated:
		r.title = e.Title
		return
	case *wire.Error:
		r.applyError(e)
	case *wire.Pong:
		return
	default:
		log.Debug().Str("component", "session").Str("type", string(ev.EventType())).Msg("ignoring unhandled event")
		return
	}
	r.mirrorSnapshotLocked(ctx)
}

func (r *Reducer) applyStreamStart(ev *wire.StreamStart) {
	if r.streaming {
		// a well-behaved backend ends or cancels first; reset defensively
		log.Warn().Str("component", "session").Str("conv_id", r.convID).Msg("stream_start while streaming, discarding residual session")
	}
	r.clearStreamingLocked()
	r.streaming = true
	r.streamingMessageID = ev.MessageID
	r.usingFreeLLM = ev.UsingFreeLLM
	r.provider = ev.LLMProvider
	r.lastErr = nil
}

func (r *Reducer) applyStreamChunk(ev *wire.StreamChunk) {
	if !r.streaming {
		log.Debug().Str("component", "session").Msg("dropping stream_chunk outside a stream")
		return
	}
	r.content.WriteString(ev.Content)
}

func (r *Reducer) applyToolCallStart(ev *wire.ToolCallStart) {
	if !r.streaming {
		log.Debug().Str("component", "session").Str("tool", ev.ToolName).Msg("dropping tool_call_start outside a stream")
		return
	}
	id := ev.ToolCallID
	if id == "" {
		// synthesize a stable key so later correlation has something to hit
		id = ev.ToolName + "-" + uuid.NewString()
	}
	r.toolCalls = append(r.toolCalls, &chat.ToolCall{
		ID:     id,
		Name:   ev.ToolName,
		Input:  ev.ToolInput,
		Status: chat.ToolCallRunning,
	})
}

func (r *Reducer) applyToolCallState(ev *wire.ToolCallState) {
	tc := r.corr.find(r.toolCalls, ev.ToolCallID, ev.ToolName)
	if tc == nil {
		// unknown id and unknown name: no-op, not an error
		return
	}
	if tc.Status != chat.ToolCallFailed {
		tc.Status = chat.ToolCallStatus(ev.Status)
	}
	// monotonic partial merge: absent fields keep their prior value
	if ev.ProgressPct != nil {
		v := *ev.ProgressPct
		tc.ProgressPct = &v
	}
	if ev.ElapsedMs != nil {
		v := *ev.ElapsedMs
		tc.ElapsedMs = &v
	}
	if ev.EtaMs != nil {
		v := *ev.EtaMs
		tc.EtaMs = &v
	}
	if ev.Detail != nil {
		tc.Detail = *ev.Detail
	}
}

func (r *Reducer) applyToolCallEnd(ev *wire.ToolCallEnd) {
	tc := r.corr.find(r.toolCalls, ev.ToolCallID, ev.ToolName)
	if tc == nil {
		return
	}
	tc.ResultPreview = ev.ResultPreview
	d := ev.DurationMs
	tc.DurationMs = &d
	// sticky failure: completion updates the result but never the status
	if tc.Status != chat.ToolCallFailed {
		tc.Status = chat.ToolCallCompleted
		p := 100
		tc.ProgressPct = &p
	}
}

func (r *Reducer) applyStreamEnd(ctx context.Context, ev *wire.StreamEnd) {
	if !r.streaming {
		log.Debug().Str("component", "session").Str("message_id", ev.MessageID).Msg("dropping stream_end outside a stream")
		return
	}
	msg := chat.Message{
		ID:             ev.MessageID,
		ConversationID: r.convID,
		Role:           chat.RoleAssistant,
		Content:        r.content.String(),
		Metadata:       ev.Metadata,
		CreatedAt:      time.Now(),
	}
	if ev.TokensUsed != nil {
		msg.TokensUsed = *ev.TokensUsed
	}
	if len(r.toolCalls) > 0 {
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		history := make([]chat.ToolCall, 0, len(r.toolCalls))
		for _, tc := range r.toolCalls {
			history = append(history, tc.Clone())
		}
		msg.Metadata["tool_calls"] = history
	}
	r.appendMessageLocked(ctx, msg)
	r.clearStreamingLocked()
}

func (r *Reducer) applyStreamCancelled() {
	// the partial text is discarded entirely; no message is produced
	r.clearStreamingLocked()
}

func (r *Reducer) applyError(ev *wire.Error) {
	r.lastErr = &SessionError{Detail: ev.Detail, Code: ev.Code}
	r.clearStreamingLocked()
}

func (r *Reducer) clearStreamingLocked() {
	r.streaming = false
	r.streamingMessageID = ""
	r.content.Reset()
	r.toolCalls = nil
	r.usingFreeLLM = false
	r.provider = ""
}

func (r *Reducer) appendMessageLocked(ctx context.Context, msg chat.Message) {
	r.transcript = append(r.transcript, msg)
	if r.transcripts == nil {
		return
	}
	if err := r.transcripts.Append(ctx, msg); err != nil {
		log.Warn().Err(err).Str("component", "session").Str("message_id", msg.ID).Msg("transcript append failed")
	}
}

// AppendUserMessage records a locally-created user message immediately
// (optimistic), independent of the streaming state machine.
func (r *Reducer) AppendUserMessage(ctx context.Context, content string, attachments []wire.Attachment) chat.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := chat.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: r.convID,
		Role:           chat.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if len(attachments) > 0 {
		msg.Metadata = map[string]any{"attachments": attachments}
	}
	r.appendMessageLocked(ctx, msg)
	return msg
}

func (r *Reducer) mirrorSnapshotLocked(ctx context.Context) {
	if r.snapshots == nil {
		return
	}
	if err := r.snapshots.Save(ctx, r.convID, r.snapshotLocked()); err != nil {
		// the snapshot is an optimization, not ground truth
		log.Warn().Err(err).Str("component", "session").Str("conv_id", r.convID).Msg("snapshot save failed")
	}
}

func (r *Reducer) snapshotLocked() snapshotstore.Snapshot {
	snap := snapshotstore.Snapshot{
		IsStreaming:      r.streaming,
		StreamingContent: r.content.String(),
	}
	if r.streamingMessageID != "" {
		id := r.streamingMessageID
		snap.StreamingMessageID = &id
	}
	for _, tc := range r.toolCalls {
		snap.ActiveToolCalls = append(snap.ActiveToolCalls, tc.Clone())
	}
	return snap
}

// Snapshot returns the current transient streaming state.
func (r *Reducer) Snapshot() snapshotstore.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Rehydrate restores transient state from a persisted snapshot. Meant to be
// called once, before any events are applied.
func (r *Reducer) Rehydrate(snap snapshotstore.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearStreamingLocked()
	r.streaming = snap.IsStreaming
	r.content.WriteString(snap.StreamingContent)
	if snap.StreamingMessageID != nil {
		r.streamingMessageID = *snap.StreamingMessageID
	}
	for i := range snap.ActiveToolCalls {
		tc := snap.ActiveToolCalls[i].Clone()
		r.toolCalls = append(r.toolCalls, &tc)
	}
}

// Transcript returns a copy of the committed message list.
func (r *Reducer) Transcript() []chat.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.Message, len(r.transcript))
	copy(out, r.transcript)
	return out
}

// Streaming reports whether an assistant reply is currently in flight.
func (r *Reducer) Streaming() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streaming
}

// StreamingContent returns the text accumulated so far.
func (r *Reducer) StreamingContent() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.content.String()
}

// StreamingMessageID returns the target message id of the in-flight reply,
// or "" when idle.
func (r *Reducer) StreamingMessageID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streamingMessageID
}

// ActiveToolCalls returns copies of the in-flight tool-call records, in
// insertion order.
func (r *Reducer) ActiveToolCalls() []chat.ToolCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chat.ToolCall, 0, len(r.toolCalls))
	for _, tc := range r.toolCalls {
		out = append(out, tc.Clone())
	}
	return out
}

// Title returns the conversation title as last reported by the server.
func (r *Reducer) Title() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.title
}

// UsingFreeLLM reports which billing mode produced the in-flight stream.
func (r *Reducer) UsingFreeLLM() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usingFreeLLM
}

// Provider returns the provider flag of the in-flight stream, or "".
func (r *Reducer) Provider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provider
}

// LastError returns the last server-signaled error, or nil.
func (r *Reducer) LastError() *SessionError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastErr == nil {
		return nil
	}
	e := *r.lastErr
	return &e
}
