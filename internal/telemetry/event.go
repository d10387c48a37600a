// Package telemetry records kernel status transitions reported by sessions.
package telemetry

import (
	"context"
	"time"

	"pkt.systems/kernelx/schema"
)

// Event is one reported kernel status transition.
type Event struct {
	ID        int64
	At        time.Time
	SessionID schema.SessionID
	Language  string
	Status    string
}

// Sink persists or forwards events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}
