package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/internal/document"
	"pkt.systems/kernelx/schema"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []schema.Message
	sentCh  chan schema.Message
	killErr error
	// killGate blocks ForceShutdown until closed or the context ends.
	killGate chan struct{}
	kills    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sentCh: make(chan schema.Message, 64)}
}

func (f *fakeTransport) Send(msg schema.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	select {
	case f.sentCh <- msg:
	default:
	}
	return nil
}

func (f *fakeTransport) ForceShutdown(ctx context.Context) error {
	f.mu.Lock()
	f.kills++
	gate := f.killGate
	err := f.killErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) sentOfType(msgType schema.MessageType) []schema.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []schema.Message
	for _, msg := range f.sent {
		if msg.Header.MsgType == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeTransport) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

type fakeLauncher struct {
	mu         sync.Mutex
	gate       chan struct{}
	err        error
	transports []*fakeTransport
	prepare    func(*fakeTransport)
	requests   []core.LaunchRequest
}

func (l *fakeLauncher) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	l.mu.Lock()
	gate := l.gate
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	transport := newFakeTransport()
	if l.prepare != nil {
		l.prepare(transport)
	}
	l.transports = append(l.transports, transport)
	return transport, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// exit reports that the kernel of launch idx went away.
func (l *fakeLauncher) exit(t *testing.T, idx int, err error) {
	t.Helper()
	l.mu.Lock()
	if idx >= len(l.requests) {
		l.mu.Unlock()
		t.Fatalf("expected launch %d, have %d", idx, len(l.requests))
	}
	onExit := l.requests[idx].OnExit
	l.mu.Unlock()
	if onExit == nil {
		t.Fatalf("launch %d has no exit callback", idx)
	}
	onExit(err)
}

func (l *fakeLauncher) setGate(gate chan struct{}) {
	l.mu.Lock()
	l.gate = gate
	l.mu.Unlock()
}

func (l *fakeLauncher) transportCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.transports)
}

func (l *fakeLauncher) transport(t *testing.T, idx int) *fakeTransport {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx >= len(l.transports) {
		t.Fatalf("expected transport %d, have %d", idx, len(l.transports))
	}
	return l.transports[idx]
}

type telemetryRecord struct {
	language string
	status   string
	session  schema.SessionID
}

type recordingTelemetry struct {
	mu      sync.Mutex
	records []telemetryRecord
}

func (r *recordingTelemetry) ReportReplEvent(language string, status string, sessionID schema.SessionID) {
	r.mu.Lock()
	r.records = append(r.records, telemetryRecord{language: language, status: status, session: sessionID})
	r.mu.Unlock()
}

func (r *recordingTelemetry) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.status)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.SessionEvent
}

func (r *recordingSink) OnSessionEvent(event schema.SessionEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSink) count(eventType schema.SessionEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// manualTimers hands out timer channels that fire only when the test says so.
type manualTimers struct {
	mu      sync.Mutex
	pending []chan time.Time
}

func (m *manualTimers) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	m.pending = append(m.pending, ch)
	m.mu.Unlock()
	return ch
}

func (m *manualTimers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, ch := range pending {
		ch <- time.Now()
	}
}

func instantAfter(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type harness struct {
	doc       *document.Document
	launcher  *fakeLauncher
	telemetry *recordingTelemetry
	sink      *recordingSink
	session   *core.Session
}

func newHarness(t *testing.T, text string, launcher *fakeLauncher, after func(time.Duration) <-chan time.Time) *harness {
	t.Helper()
	if launcher == nil {
		launcher = &fakeLauncher{}
	}
	if after == nil {
		after = instantAfter
	}
	h := &harness{
		doc:       document.New(text),
		launcher:  launcher,
		telemetry: &recordingTelemetry{},
		sink:      &recordingSink{},
	}
	spec := schema.KernelSpecification{Name: "python3", LanguageName: "Python", Argv: []string{"python3"}}
	sess, err := core.NewSession(context.Background(), schema.SessionConfig{}, spec, core.SessionDeps{
		Document:  h.doc,
		Launcher:  launcher,
		Telemetry: h.telemetry,
		EventSink: h.sink,
		After:     after,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	h.session = sess
	return h
}

func (h *harness) waitRunning(t *testing.T) core.RunningKernel {
	t.Helper()
	if starting, ok := h.session.Kernel().(core.StartingKernel); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := starting.Wait(ctx); err != nil {
			t.Fatalf("kernel start: %v", err)
		}
	}
	running, ok := h.session.Kernel().(core.RunningKernel)
	if !ok {
		t.Fatalf("expected running kernel, got %T", h.session.Kernel())
	}
	return running
}

// rowRange anchors a whole row of the document.
func (h *harness) rowRange(row int) core.AnchorRange {
	snap := h.doc.Snapshot()
	lines := splitRows(snap.Text())
	width := 0
	if row < len(lines) {
		width = len([]rune(lines[row]))
	}
	return core.AnchorRange{
		Start: h.doc.AnchorBefore(core.Point{Row: row}),
		End:   h.doc.AnchorAfter(core.Point{Row: row, Column: width}),
	}
}

func (h *harness) execute(t *testing.T, row int, code string) schema.MessageID {
	t.Helper()
	before := h.session.Blocks()
	if err := h.session.Execute(context.Background(), core.ExecuteRequest{Code: code, Range: h.rowRange(row)}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	after := h.session.Blocks()
	if len(after) == 0 {
		t.Fatalf("expected a block after execute")
	}
	last := after[len(after)-1]
	for _, prev := range before {
		if prev.MsgID == last.MsgID {
			t.Fatalf("expected a new block")
		}
	}
	return last.MsgID
}

func splitRows(text string) []string {
	var rows []string
	start := 0
	for i, r := range text {
		if r == '\n' {
			rows = append(rows, text[start:i])
			start = i + 1
		}
	}
	return append(rows, text[start:])
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitSent(t *testing.T, transport *fakeTransport, msgType schema.MessageType) schema.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-transport.sentCh:
			if msg.Header.MsgType == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msgType)
			return schema.Message{}
		}
	}
}

func replyTo(parentID schema.MessageID, content schema.Content) schema.Message {
	parent := schema.Message{Header: schema.Header{MsgID: parentID, Session: "s"}}
	return schema.Reply(parent, content)
}

var errBoom = errors.New("boom")
