package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Decode parses an inbound frame into a typed event. A malformed or
// schema-violating payload yields nil and is meant to be dropped: decoding
// never propagates an error to the caller, which keeps partial or corrupt
// transport data away from the reducer.
func Decode(data []byte) Event {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Debug().Err(err).Str("component", "wire").Int("bytes", len(data)).Msg("dropping unparseable frame")
		return nil
	}

	switch probe.Type {
	case EventStreamStart:
		ev := &StreamStart{}
		if json.Unmarshal(data, ev) != nil || ev.MessageID == "" {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventStreamChunk:
		ev := &StreamChunk{}
		if json.Unmarshal(data, ev) != nil {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventStreamEnd:
		ev := &StreamEnd{}
		if json.Unmarshal(data, ev) != nil || ev.MessageID == "" {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventStreamCancelled:
		return &StreamCancelled{}
	case EventToolCallStart:
		ev := &ToolCallStart{}
		if json.Unmarshal(data, ev) != nil || ev.ToolName == "" {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventToolCallState:
		ev := &ToolCallState{}
		if json.Unmarshal(data, ev) != nil || ev.Status == "" {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventToolCallEnd:
		ev := &ToolCallEnd{}
		if json.Unmarshal(data, ev) != nil {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventTitleUpdated:
		ev := &TitleUpdated{}
		if json.Unmarshal(data, ev) != nil || ev.Title == "" {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventError:
		ev := &Error{}
		if json.Unmarshal(data, ev) != nil {
			return dropInvalid(probe.Type)
		}
		return ev
	case EventPong:
		return &Pong{}
	}

	log.Debug().Str("component", "wire").Str("type", string(probe.Type)).Msg("dropping frame with unknown type")
	return nil
}

func dropInvalid(t EventType) Event {
	log.Debug().Str("component", "wire").Str("type", string(t)).Msg("dropping frame that violates schema")
	return nil
}

// Encode serializes an outgoing command with its type tag.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *MessageCommand:
		return json.Marshal(struct {
			Type CommandType `json:"type"`
			*MessageCommand
		}{CommandMessage, c})
	case *CancelCommand:
		return json.Marshal(struct {
			Type CommandType `json:"type"`
		}{CommandCancel})
	case *PingCommand:
		return json.Marshal(struct {
			Type CommandType `json:"type"`
		}{CommandPing})
	case nil:
		return nil, errors.New("wire: nil command")
	default:
		return nil, errors.Errorf("wire: unknown command type %T", cmd)
	}
}
