package eventbus

import "pkt.systems/kernelx/schema"

// Sink receives session events.
type Sink interface {
	OnSessionEvent(event schema.SessionEvent)
}

// Fanout forwards every event to each non-nil sink in order.
type Fanout []Sink

// OnSessionEvent forwards the event.
func (f Fanout) OnSessionEvent(event schema.SessionEvent) {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		sink.OnSessionEvent(event)
	}
}
