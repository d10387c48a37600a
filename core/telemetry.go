package core

import "pkt.systems/kernelx/schema"

// Telemetry receives a report for every kernel status transition.
type Telemetry interface {
	ReportReplEvent(language string, status string, sessionID schema.SessionID)
}

type nopTelemetry struct{}

func (nopTelemetry) ReportReplEvent(string, string, schema.SessionID) {}
