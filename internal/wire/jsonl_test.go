package wire

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"pkt.systems/kernelx/schema"
)

func TestDecoderReadsMessages(t *testing.T) {
	data := "\n" +
		`{"header":{"msg_id":"m1","msg_type":"status","session":"s"},"parent_header":{"msg_id":"p1","msg_type":"execute_request"},"metadata":{},"content":{"execution_state":"busy"}}` + "\n" +
		`{"header":{"msg_id":"m2","msg_type":"stream","session":"s"},"parent_header":{},"metadata":{},"content":{"name":"stdout","text":"hi\n"}}` + "\n"
	dec := NewDecoder(strings.NewReader(data))

	msg, err := dec.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	status, ok := msg.Content.(schema.Status)
	if !ok || status.ExecutionState != schema.ExecutionStateBusy {
		t.Fatalf("unexpected first message: %+v", msg)
	}
	if parent, ok := msg.ParentID(); !ok || parent != "p1" {
		t.Fatalf("unexpected parent %q", parent)
	}

	msg, err = dec.Next(context.Background())
	if err != nil {
		t.Fatalf("Next(2): %v", err)
	}
	if _, ok := msg.ParentID(); ok {
		t.Fatalf("expected empty parent header to decode as none")
	}
	if stream := msg.Content.(schema.StreamContent); stream.Text != "hi\n" {
		t.Fatalf("unexpected stream text %q", stream.Text)
	}

	if _, err := dec.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecoderReportsBadLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader("not json\n" + `{"header":{"msg_id":"m","msg_type":"status"},"content":{}}` + "\n"))
	_, err := dec.Next(context.Background())
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if string(decodeErr.Line()) != "not json" {
		t.Fatalf("unexpected line %q", decodeErr.Line())
	}
	if _, err := dec.Next(context.Background()); err != nil {
		t.Fatalf("expected decoder to recover, got %v", err)
	}
}

func TestDecoderStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDecoder(strings.NewReader("")).Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	req := schema.NewMessage(schema.NewExecuteRequest("1 + 1"), "s1")
	if err := enc.Encode(req); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") || strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", buf.String())
	}
	msg, err := NewDecoder(&buf).Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if msg.Header.MsgID != req.Header.MsgID || msg.Content.(schema.ExecuteRequest).Code != "1 + 1" {
		t.Fatalf("unexpected decoded message %+v", msg)
	}
	if msg.Channel != schema.ChannelShell {
		t.Fatalf("unexpected channel %q", msg.Channel)
	}
}
