package logx

import (
	"context"

	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	sessionKey contextKey = iota
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithKernel annotates the logger with the kernelspec name when available.
func WithKernel(log pslog.Logger, name schema.KernelName) pslog.Logger {
	if name != "" {
		log = log.With("kernel", name)
	}
	return log
}

// WithMessage annotates the logger with a message id when available.
func WithMessage(log pslog.Logger, msgID schema.MessageID) pslog.Logger {
	if msgID != "" {
		log = log.With("msg_id", msgID)
	}
	return log
}

// WithSessionContext returns the context logger annotated with the session
// id unless the context already carries that session marker.
func WithSessionContext(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID == "" {
		return log
	}
	if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
		return log
	}
	return log.With("session", sessionID)
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}
