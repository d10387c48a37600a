package eventbus

import (
	"testing"
	"time"

	"pkt.systems/kernelx/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	event := schema.SessionEvent{Type: schema.SessionEventKernel, SessionID: "s1", Kernel: schema.KernelStatusIdle}
	bus.OnSessionEvent(event)

	select {
	case got := <-ch:
		if got.Type != schema.SessionEventKernel || got.Kernel != schema.KernelStatusIdle {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestOtherSessionsAreNotDelivered(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()
	bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionEventKernel, SessionID: "s2"})
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %+v", got)
	default:
	}
}

func TestWildcardReceivesEverySession(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe(AllSessions)
	defer cancel()
	bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionEventKernel, SessionID: "s1"})
	bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionEventShutdown, SessionID: "s2"})
	for _, want := range []schema.SessionID{"s1", "s2"} {
		select {
		case got := <-ch:
			if got.SessionID != want {
				t.Fatalf("expected %s, got %s", want, got.SessionID)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("s1")
	defer cancel()

	var sendCh chan schema.SessionEvent
	bus.mu.Lock()
	for ch := range bus.subs["s1"] {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- schema.SessionEvent{Type: schema.SessionEventBlock}
	done := make(chan struct{})
	go func() {
		bus.OnSessionEvent(schema.SessionEvent{Type: schema.SessionEventKernel, SessionID: "s1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}

type countingSink struct{ n int }

func (c *countingSink) OnSessionEvent(schema.SessionEvent) { c.n++ }

func TestFanoutSkipsNilSinks(t *testing.T) {
	first, second := &countingSink{}, &countingSink{}
	fan := Fanout{first, nil, second}
	fan.OnSessionEvent(schema.SessionEvent{})
	if first.n != 1 || second.n != 1 {
		t.Fatalf("unexpected counts %d %d", first.n, second.n)
	}
}
