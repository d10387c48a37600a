package schema

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the Jupyter messaging protocol version we speak.
const ProtocolVersion = "5.3"

// DefaultUsername is reported in outbound headers.
const DefaultUsername = "kernelx"

// MessageType is the header msg_type.
type MessageType string

const (
	MsgStatus            MessageType = "status"
	MsgKernelInfoRequest MessageType = "kernel_info_request"
	MsgKernelInfoReply   MessageType = "kernel_info_reply"
	MsgExecuteRequest    MessageType = "execute_request"
	MsgExecuteReply      MessageType = "execute_reply"
	MsgExecuteInput      MessageType = "execute_input"
	MsgExecuteResult     MessageType = "execute_result"
	MsgDisplayData       MessageType = "display_data"
	MsgUpdateDisplayData MessageType = "update_display_data"
	MsgStream            MessageType = "stream"
	MsgError             MessageType = "error"
	MsgClearOutput       MessageType = "clear_output"
	MsgInterruptRequest  MessageType = "interrupt_request"
	MsgInterruptReply    MessageType = "interrupt_reply"
	MsgShutdownRequest   MessageType = "shutdown_request"
	MsgShutdownReply     MessageType = "shutdown_reply"
)

// Header is a message header.
type Header struct {
	MsgID    MessageID   `json:"msg_id"`
	MsgType  MessageType `json:"msg_type"`
	Session  SessionID   `json:"session"`
	Username string      `json:"username"`
	Date     string      `json:"date,omitempty"`
	Version  string      `json:"version"`
}

// Message is a decoded protocol message.
// ParentHeader is nil when the message does not reply to anything.
type Message struct {
	Header       Header
	ParentHeader *Header
	Metadata     map[string]any
	Content      Content
	Buffers      []json.RawMessage
	Channel      Channel
}

// ParentID returns the correlation id this message replies to.
func (m Message) ParentID() (MessageID, bool) {
	if m.ParentHeader == nil || m.ParentHeader.MsgID == "" {
		return "", false
	}
	return m.ParentHeader.MsgID, true
}

// Content is the tagged union of message payloads.
type Content interface {
	MsgType() MessageType
}

// NewMessage wraps content in a fresh header for the given session.
func NewMessage(content Content, session SessionID) Message {
	return Message{
		Header: Header{
			MsgID:    MessageID(uuid.NewString()),
			MsgType:  content.MsgType(),
			Session:  session,
			Username: DefaultUsername,
			Date:     time.Now().UTC().Format(time.RFC3339Nano),
			Version:  ProtocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
		Channel:  channelFor(content.MsgType()),
	}
}

// Reply builds a message replying to parent.
func Reply(parent Message, content Content) Message {
	msg := NewMessage(content, parent.Header.Session)
	header := parent.Header
	msg.ParentHeader = &header
	if content.MsgType() != MsgShutdownReply && content.MsgType() != MsgInterruptReply {
		msg.Channel = replyChannelFor(content.MsgType())
	}
	return msg
}

func channelFor(msgType MessageType) Channel {
	switch msgType {
	case MsgInterruptRequest, MsgShutdownRequest, MsgInterruptReply, MsgShutdownReply:
		return ChannelControl
	case MsgStatus, MsgExecuteInput, MsgExecuteResult, MsgDisplayData, MsgUpdateDisplayData, MsgStream, MsgError, MsgClearOutput:
		return ChannelIOPub
	default:
		return ChannelShell
	}
}

func replyChannelFor(msgType MessageType) Channel {
	return channelFor(msgType)
}

// Status reports kernel execution state on iopub.
type Status struct {
	ExecutionState ExecutionState `json:"execution_state"`
}

func (Status) MsgType() MessageType { return MsgStatus }

// KernelInfoRequest asks the kernel to describe itself.
type KernelInfoRequest struct{}

func (KernelInfoRequest) MsgType() MessageType { return MsgKernelInfoRequest }

// LanguageInfo describes the kernel language.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	MimeType      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// KernelInfoReply carries kernel metadata.
type KernelInfoReply struct {
	Status                string       `json:"status"`
	ProtocolVersion       string       `json:"protocol_version,omitempty"`
	Implementation        string       `json:"implementation,omitempty"`
	ImplementationVersion string       `json:"implementation_version,omitempty"`
	LanguageInfo          LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner,omitempty"`
}

func (KernelInfoReply) MsgType() MessageType { return MsgKernelInfoReply }

// ExecuteRequest asks the kernel to run code.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

func (ExecuteRequest) MsgType() MessageType { return MsgExecuteRequest }

// NewExecuteRequest returns a request with the protocol defaults.
func NewExecuteRequest(code string) ExecuteRequest {
	return ExecuteRequest{
		Code:            code,
		StoreHistory:    true,
		UserExpressions: map[string]string{},
		StopOnError:     true,
	}
}

// Payload is an execute_reply payload entry.
type Payload struct {
	Source string     `json:"source"`
	Data   MimeBundle `json:"data,omitempty"`
	Start  int        `json:"start,omitempty"`
}

// PayloadSourcePage marks pager payloads.
const PayloadSourcePage = "page"

// ExecuteReply finishes an execution on the shell channel.
type ExecuteReply struct {
	Status         string    `json:"status"`
	ExecutionCount int       `json:"execution_count"`
	Payload        []Payload `json:"payload,omitempty"`
	EName          string    `json:"ename,omitempty"`
	EValue         string    `json:"evalue,omitempty"`
	Traceback      []string  `json:"traceback,omitempty"`
}

func (ExecuteReply) MsgType() MessageType { return MsgExecuteReply }

// ExecuteInput rebroadcasts the code being executed.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

func (ExecuteInput) MsgType() MessageType { return MsgExecuteInput }

// Transient holds display-only fields.
type Transient struct {
	DisplayID DisplayID `json:"display_id,omitempty"`
}

// ExecuteResult carries the value of the last expression.
type ExecuteResult struct {
	ExecutionCount int            `json:"execution_count"`
	Data           MimeBundle     `json:"data"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Transient      Transient      `json:"transient,omitempty"`
}

func (ExecuteResult) MsgType() MessageType { return MsgExecuteResult }

// DisplayData carries rich output.
type DisplayData struct {
	Data      MimeBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Transient Transient      `json:"transient,omitempty"`
}

func (DisplayData) MsgType() MessageType { return MsgDisplayData }

// UpdateDisplayData replaces the data of a previously displayed output.
type UpdateDisplayData struct {
	Data      MimeBundle     `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Transient Transient      `json:"transient"`
}

func (UpdateDisplayData) MsgType() MessageType { return MsgUpdateDisplayData }

// StreamName is stdout or stderr.
type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// StreamContent carries text written to a stream.
type StreamContent struct {
	Name StreamName `json:"name"`
	Text string     `json:"text"`
}

func (StreamContent) MsgType() MessageType { return MsgStream }

// ErrorOutput carries an exception.
type ErrorOutput struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

func (ErrorOutput) MsgType() MessageType { return MsgError }

// ClearOutput clears the outputs of the current execution.
type ClearOutput struct {
	Wait bool `json:"wait"`
}

func (ClearOutput) MsgType() MessageType { return MsgClearOutput }

// InterruptRequest asks the kernel to interrupt execution.
type InterruptRequest struct{}

func (InterruptRequest) MsgType() MessageType { return MsgInterruptRequest }

// InterruptReply acknowledges an interrupt.
type InterruptReply struct {
	Status string `json:"status"`
}

func (InterruptReply) MsgType() MessageType { return MsgInterruptReply }

// ShutdownRequest asks the kernel to exit, optionally to be restarted.
type ShutdownRequest struct {
	Restart bool `json:"restart"`
}

func (ShutdownRequest) MsgType() MessageType { return MsgShutdownRequest }

// ShutdownReply acknowledges a shutdown request.
type ShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

func (ShutdownReply) MsgType() MessageType { return MsgShutdownReply }

// UnknownContent keeps payloads of message types we do not model.
type UnknownContent struct {
	Type MessageType
	Raw  json.RawMessage
}

func (u UnknownContent) MsgType() MessageType { return u.Type }
