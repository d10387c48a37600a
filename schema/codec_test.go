package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUnmarshalEmptyParentHeaderIsNil(t *testing.T) {
	line := []byte(`{"header":{"msg_id":"a","msg_type":"status","session":"s","username":"k","version":"5.3"},"parent_header":{},"metadata":{},"content":{"execution_state":"busy"}}`)
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.ParentHeader != nil {
		t.Fatalf("expected nil parent header, got %+v", msg.ParentHeader)
	}
	if _, ok := msg.ParentID(); ok {
		t.Fatalf("expected no parent id")
	}
	status, ok := msg.Content.(Status)
	if !ok || status.ExecutionState != ExecutionStateBusy {
		t.Fatalf("unexpected content: %#v", msg.Content)
	}
	if msg.Channel != ChannelIOPub {
		t.Fatalf("expected iopub channel, got %q", msg.Channel)
	}
}

func TestUnmarshalKeepsUnknownContentRaw(t *testing.T) {
	line := []byte(`{"header":{"msg_id":"a","msg_type":"comm_open"},"parent_header":{"msg_id":"p"},"content":{"comm_id":"x"}}`)
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	unknown, ok := msg.Content.(UnknownContent)
	if !ok {
		t.Fatalf("expected unknown content, got %T", msg.Content)
	}
	if unknown.Type != "comm_open" || string(unknown.Raw) != `{"comm_id":"x"}` {
		t.Fatalf("unexpected unknown content: %+v", unknown)
	}
	parent, ok := msg.ParentID()
	if !ok || parent != "p" {
		t.Fatalf("expected parent p, got %q", parent)
	}
}

func TestUnmarshalRequiresMsgType(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"header":{"msg_id":"a"},"content":{}}`), &msg)
	if !errors.Is(err, ErrMissingMsgType) {
		t.Fatalf("expected ErrMissingMsgType, got %v", err)
	}
}

func TestUnmarshalRejectsMistypedContent(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"header":{"msg_id":"a","msg_type":"stream"},"content":{"text":5}}`), &msg)
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestReplyCarriesParent(t *testing.T) {
	req := NewMessage(NewExecuteRequest("1+1"), "sess")
	if req.Channel != ChannelShell {
		t.Fatalf("expected shell channel, got %q", req.Channel)
	}
	reply := Reply(req, StreamContent{Name: StreamStdout, Text: "2\n"})
	parent, ok := reply.ParentID()
	if !ok || parent != req.Header.MsgID {
		t.Fatalf("expected parent %q, got %q", req.Header.MsgID, parent)
	}
	if reply.Header.Session != "sess" {
		t.Fatalf("expected session to carry over, got %q", reply.Header.Session)
	}

	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	stream, ok := decoded.Content.(StreamContent)
	if !ok || stream.Text != "2\n" {
		t.Fatalf("unexpected decoded content: %#v", decoded.Content)
	}
}

func TestControlMessagesUseControlChannel(t *testing.T) {
	if msg := NewMessage(ShutdownRequest{Restart: true}, "s"); msg.Channel != ChannelControl {
		t.Fatalf("expected control channel for shutdown, got %q", msg.Channel)
	}
	if msg := NewMessage(InterruptRequest{}, "s"); msg.Channel != ChannelControl {
		t.Fatalf("expected control channel for interrupt, got %q", msg.Channel)
	}
}

func TestNormalizeSessionConfigDefaults(t *testing.T) {
	cfg, err := NormalizeSessionConfig(SessionConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.ShutdownGrace != DefaultShutdownGrace || cfg.RestartGrace != DefaultRestartGrace {
		t.Fatalf("unexpected grace periods: %+v", cfg)
	}
	if cfg.ScrollContext != 8 || cfg.OutputMaxLines != DefaultOutputMaxLines {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if _, err := NormalizeSessionConfig(SessionConfig{ShutdownGrace: -1}); err == nil {
		t.Fatalf("expected negative grace to fail")
	}
}

func TestKernelSpecificationValidate(t *testing.T) {
	spec := KernelSpecification{Name: "python3", LanguageName: "Python", Argv: []string{"python3"}}
	if err := spec.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if spec.Language() != "python" {
		t.Fatalf("expected lowercased language, got %q", spec.Language())
	}
	remote := KernelSpecification{Kind: KernelKindRemote, Name: "python3"}
	if err := remote.Validate(); !errors.Is(err, ErrInvalidKernelSpec) {
		t.Fatalf("expected invalid kernelspec, got %v", err)
	}
}

func TestExecutionStatusString(t *testing.T) {
	if got := Errored("boom").String(); got != "Error: boom" {
		t.Fatalf("unexpected errored label %q", got)
	}
	if got := StatusOf(ExecutionQueued).String(); got != "Queued" {
		t.Fatalf("unexpected queued label %q", got)
	}
}
