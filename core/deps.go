package core

import (
	"time"

	"pkt.systems/pslog"
)

// SessionDeps captures the collaborators of a session. Document and Launcher
// are required; the rest fall back to defaults.
type SessionDeps struct {
	Document  Document
	Launcher  Launcher
	Telemetry Telemetry
	Renderer  Renderer
	EventSink EventSink
	Logger    pslog.Logger
	// After is the timer source for grace periods. Defaults to time.After.
	After func(time.Duration) <-chan time.Time
}
