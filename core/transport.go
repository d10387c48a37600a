package core

import (
	"context"

	"pkt.systems/kernelx/schema"
)

// LaunchRequest describes a kernel to start for a session.
type LaunchRequest struct {
	Spec       schema.KernelSpecification
	WorkingDir string
	SessionID  schema.SessionID
	// OnMessage receives every inbound kernel message. It may be called from
	// any goroutine but never concurrently for the same transport.
	OnMessage func(schema.Message)
	// OnExit reports a kernel that went away without ForceShutdown. The
	// error is nil for a clean exit. It is called at most once.
	OnExit func(error)
}

// Launcher starts kernels.
type Launcher interface {
	Launch(ctx context.Context, req LaunchRequest) (Transport, error)
}

// Transport is the live request channel of a running kernel.
type Transport interface {
	// Send queues an outbound message without blocking.
	Send(msg schema.Message) error
	// ForceShutdown terminates the kernel and waits for it to exit.
	ForceShutdown(ctx context.Context) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(ctx context.Context, req LaunchRequest) (Transport, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, req LaunchRequest) (Transport, error) {
	return f(ctx, req)
}

// KindRouter dispatches launches to the launcher registered for the
// kernelspec kind. An empty kind is treated as local.
type KindRouter map[schema.KernelKind]Launcher

// Launch starts req.Spec with the launcher for its kind.
func (r KindRouter) Launch(ctx context.Context, req LaunchRequest) (Transport, error) {
	kind := req.Spec.Kind
	if kind == "" {
		kind = schema.KernelKindLocal
	}
	launcher := r[kind]
	if launcher == nil {
		return nil, NewLaunchError(LaunchErrorUnavailable, string(kind)+" launch", schema.ErrLauncherUnavailable)
	}
	return launcher.Launch(ctx, req)
}
