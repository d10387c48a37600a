package telemetry

import (
	"context"

	"pkt.systems/pslog"
)

// LogSink reports events as structured log lines.
type LogSink struct {
	Logger pslog.Logger
}

var _ Sink = LogSink{}

// Record logs ev at debug level.
func (s LogSink) Record(ctx context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	logger.Debug("repl event", "session", ev.SessionID, "language", ev.Language, "status", ev.Status)
	return nil
}
