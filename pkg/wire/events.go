package wire

// EventType tags an inbound frame. The set is closed: frames with any other
// tag are dropped by the codec.
type EventType string

const (
	EventStreamStart     EventType = "stream_start"
	EventStreamChunk     EventType = "stream_chunk"
	EventStreamEnd       EventType = "stream_end"
	EventStreamCancelled EventType = "stream_cancelled"
	EventToolCallStart   EventType = "tool_call_start"
	EventToolCallState   EventType = "tool_call_state"
	EventToolCallEnd     EventType = "tool_call_end"
	EventTitleUpdated    EventType = "title_updated"
	EventError           EventType = "error"
	EventPong            EventType = "pong"
)

// Event is a decoded inbound frame.
type Event interface {
	EventType() EventType
}

// StreamStart opens a new assistant reply stream.
type StreamStart struct {
	MessageID    string `json:"message_id"`
	UsingFreeLLM bool   `json:"using_free_llm,omitempty"`
	LLMProvider  string `json:"llm_provider,omitempty"`
}

func (*StreamStart) EventType() EventType { return EventStreamStart }

// StreamChunk carries one token delta. Chunks are order-sensitive and must
// be applied in arrival order.
type StreamChunk struct {
	Content string `json:"content"`
}

func (*StreamChunk) EventType() EventType { return EventStreamChunk }

// StreamEnd finalizes the current stream into an assistant message.
type StreamEnd struct {
	MessageID  string         `json:"message_id"`
	TokensUsed *int           `json:"tokens_used,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (*StreamEnd) EventType() EventType { return EventStreamEnd }

// StreamCancelled discards the current stream without producing a message.
type StreamCancelled struct{}

func (*StreamCancelled) EventType() EventType { return EventStreamCancelled }

// ToolCallStart announces a new tool invocation. The id may be absent for
// legacy backend code paths; the reducer synthesizes one in that case.
type ToolCallStart struct {
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
}

func (*ToolCallStart) EventType() EventType { return EventToolCallStart }

// ToolCallState is a partial lifecycle update. Optional fields are pointers:
// nil means "not present in the frame", and the previous value is kept.
type ToolCallState struct {
	ToolCallID  string  `json:"tool_call_id,omitempty"`
	ToolName    string  `json:"tool_name"`
	Status      string  `json:"status"`
	ProgressPct *int    `json:"progress_pct,omitempty"`
	ElapsedMs   *int64  `json:"elapsed_ms,omitempty"`
	EtaMs       *int64  `json:"eta_ms,omitempty"`
	Detail      *string `json:"detail,omitempty"`
}

func (*ToolCallState) EventType() EventType { return EventToolCallState }

// ToolCallEnd closes a tool invocation with its result preview.
type ToolCallEnd struct {
	ToolCallID    string `json:"tool_call_id,omitempty"`
	ToolName      string `json:"tool_name"`
	ResultPreview string `json:"result_preview"`
	DurationMs    int64  `json:"duration_ms"`
}

func (*ToolCallEnd) EventType() EventType { return EventToolCallEnd }

// TitleUpdated reports a server-side conversation title change.
type TitleUpdated struct {
	Title string `json:"title"`
}

func (*TitleUpdated) EventType() EventType { return EventTitleUpdated }

// Error is a server-signaled application error. The code is stored for the
// surrounding UI to branch on; the core does not interpret it.
type Error struct {
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

func (*Error) EventType() EventType { return EventError }

// Pong acknowledges a keepalive ping. Accepted and ignored.
type Pong struct{}

func (*Pong) EventType() EventType { return EventPong }
