package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type wireMessage struct {
	Header       Header            `json:"header"`
	ParentHeader json.RawMessage   `json:"parent_header"`
	Metadata     map[string]any    `json:"metadata"`
	Content      json.RawMessage   `json:"content"`
	Buffers      []json.RawMessage `json:"buffers,omitempty"`
	Channel      Channel           `json:"channel,omitempty"`
}

// MarshalJSON encodes the message in Jupyter wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{
		Header:   m.Header,
		Metadata: m.Metadata,
		Buffers:  m.Buffers,
		Channel:  m.Channel,
	}
	if wire.Metadata == nil {
		wire.Metadata = map[string]any{}
	}
	if wire.Header.MsgType == "" && m.Content != nil {
		wire.Header.MsgType = m.Content.MsgType()
	}
	if m.ParentHeader != nil {
		data, err := json.Marshal(m.ParentHeader)
		if err != nil {
			return nil, err
		}
		wire.ParentHeader = data
	} else {
		wire.ParentHeader = json.RawMessage("{}")
	}
	switch content := m.Content.(type) {
	case nil:
		wire.Content = json.RawMessage("{}")
	case UnknownContent:
		if len(content.Raw) == 0 {
			wire.Content = json.RawMessage("{}")
		} else {
			wire.Content = content.Raw
		}
	default:
		data, err := json.Marshal(content)
		if err != nil {
			return nil, err
		}
		wire.Content = data
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a wire message. An empty parent header decodes to nil
// and content of unmodelled types is kept raw.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if wire.Header.MsgType == "" {
		return ErrMissingMsgType
	}
	parent, err := decodeParentHeader(wire.ParentHeader)
	if err != nil {
		return err
	}
	content, err := DecodeContent(wire.Header.MsgType, wire.Content)
	if err != nil {
		return err
	}
	*m = Message{
		Header:       wire.Header,
		ParentHeader: parent,
		Metadata:     wire.Metadata,
		Content:      content,
		Buffers:      wire.Buffers,
		Channel:      wire.Channel,
	}
	if m.Channel == "" {
		m.Channel = channelFor(m.Header.MsgType)
	}
	return nil
}

func decodeParentHeader(raw json.RawMessage) (*Header, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	var parent Header
	if err := json.Unmarshal(trimmed, &parent); err != nil {
		return nil, fmt.Errorf("%w: parent_header: %v", ErrInvalidMessage, err)
	}
	if parent.MsgID == "" {
		return nil, nil
	}
	return &parent, nil
}

// DecodeContent decodes raw content for the given message type.
func DecodeContent(msgType MessageType, raw json.RawMessage) (Content, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	var content Content
	switch msgType {
	case MsgStatus:
		content = decodeInto[Status](raw)
	case MsgKernelInfoRequest:
		content = decodeInto[KernelInfoRequest](raw)
	case MsgKernelInfoReply:
		content = decodeInto[KernelInfoReply](raw)
	case MsgExecuteRequest:
		content = decodeInto[ExecuteRequest](raw)
	case MsgExecuteReply:
		content = decodeInto[ExecuteReply](raw)
	case MsgExecuteInput:
		content = decodeInto[ExecuteInput](raw)
	case MsgExecuteResult:
		content = decodeInto[ExecuteResult](raw)
	case MsgDisplayData:
		content = decodeInto[DisplayData](raw)
	case MsgUpdateDisplayData:
		content = decodeInto[UpdateDisplayData](raw)
	case MsgStream:
		content = decodeInto[StreamContent](raw)
	case MsgError:
		content = decodeInto[ErrorOutput](raw)
	case MsgClearOutput:
		content = decodeInto[ClearOutput](raw)
	case MsgInterruptRequest:
		content = decodeInto[InterruptRequest](raw)
	case MsgInterruptReply:
		content = decodeInto[InterruptReply](raw)
	case MsgShutdownRequest:
		content = decodeInto[ShutdownRequest](raw)
	case MsgShutdownReply:
		content = decodeInto[ShutdownReply](raw)
	default:
		return UnknownContent{Type: msgType, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if decoded, ok := content.(decodeFailure); ok {
		return nil, fmt.Errorf("%w: %s content: %v", ErrInvalidMessage, msgType, decoded.err)
	}
	return content, nil
}

type decodeFailure struct {
	msgType MessageType
	err     error
}

func (d decodeFailure) MsgType() MessageType { return d.msgType }

func decodeInto[T Content](raw json.RawMessage) Content {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return decodeFailure{msgType: value.MsgType(), err: err}
	}
	return value
}
