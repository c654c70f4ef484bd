package wire

// CommandType tags an outgoing frame. The set is closed.
type CommandType string

const (
	CommandMessage CommandType = "message"
	CommandCancel  CommandType = "cancel"
	CommandPing    CommandType = "ping"
)

// Command is an outgoing frame payload.
type Command interface {
	CommandType() CommandType
}

// Attachment references an uploaded document attached to a user message.
type Attachment struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename,omitempty"`
	FileType   string `json:"file_type,omitempty"`
}

// MessageCommand submits a user message.
type MessageCommand struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (*MessageCommand) CommandType() CommandType { return CommandMessage }

// CancelCommand requests cancellation of the in-flight stream. It is
// fire-and-forget; the server acknowledges via stream_cancelled or error.
type CancelCommand struct{}

func (*CancelCommand) CommandType() CommandType { return CommandCancel }

// PingCommand is the keepalive probe.
type PingCommand struct{}

func (*PingCommand) CommandType() CommandType { return CommandPing }
