package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func TestWithKernelAndMessageAddFields(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithMessage(WithKernel(logger, "python3"), "m1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["kernel"] != "python3" {
		t.Fatalf("expected kernel field, got %+v", entry)
	}
	if entry["msg_id"] != "m1" {
		t.Fatalf("expected msg_id field, got %+v", entry)
	}
}

func TestWithKernelSkipsEmptyName(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	WithKernel(logger, "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["kernel"]; ok {
		t.Fatalf("did not expect kernel field for empty name")
	}
}

func TestWithSessionContextDedupes(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	ctx := ContextWithSessionLogger(context.Background(), WithSession(logger, "s1"), "s1")
	WithSessionContext(ctx, "s1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"session"`)) != 1 {
		t.Fatalf("expected a single session field, got %s", line)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
