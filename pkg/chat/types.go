package chat

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation holds the metadata the session core needs about a
// conversation. CRUD on conversations lives in the surrounding REST layer;
// the core only reads the identifier to scope its connection and tracks the
// server-assigned title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is a single transcript entry. User messages are created
// optimistically on send; assistant messages are finalized from an
// accumulated stream.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	TokensUsed     int            `json:"tokens_used,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ToolCallStatus is the lifecycle status of an in-flight tool invocation.
type ToolCallStatus string

const (
	ToolCallQueued    ToolCallStatus = "queued"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallProgress  ToolCallStatus = "progress"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// Terminal reports whether the status ends the tool call's lifecycle.
func (s ToolCallStatus) Terminal() bool {
	return s == ToolCallCompleted || s == ToolCallFailed
}

// ToolCall is an asynchronous side-operation the backend performs while
// composing a reply. Optional numeric fields are pointers so that partial
// state updates can distinguish "absent" from "zero".
type ToolCall struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Input         map[string]any `json:"input,omitempty"`
	Status        ToolCallStatus `json:"status"`
	ProgressPct   *int           `json:"progress_pct,omitempty"`
	ElapsedMs     *int64         `json:"elapsed_ms,omitempty"`
	EtaMs         *int64         `json:"eta_ms,omitempty"`
	Detail        string         `json:"detail,omitempty"`
	ResultPreview string         `json:"result_preview,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty"`
}

// Clone returns a deep-enough copy for snapshotting: the input map is
// shared (treated as immutable after arrival), pointer fields are copied.
func (tc *ToolCall) Clone() ToolCall {
	out := *tc
	if tc.ProgressPct != nil {
		v := *tc.ProgressPct
		out.ProgressPct = &v
	}
	if tc.ElapsedMs != nil {
		v := *tc.ElapsedMs
		out.ElapsedMs = &v
	}
	if tc.EtaMs != nil {
		v := *tc.EtaMs
		out.EtaMs = &v
	}
	if tc.DurationMs != nil {
		v := *tc.DurationMs
		out.DurationMs = &v
	}
	return out
}
