package core

import "pkt.systems/kernelx/schema"

// EventSink receives session events.
type EventSink interface {
	OnSessionEvent(event schema.SessionEvent)
}
