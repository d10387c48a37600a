package kernelgrpc

import (
	"time"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// SpecResolver finds installed kernelspecs by name.
type SpecResolver interface {
	Find(name schema.KernelName) (schema.KernelSpecification, error)
}

// Config controls the gateway server.
type Config struct {
	SocketPath string
	// KeepaliveInterval and KeepaliveMisses stop the server once no Ping
	// has arrived for Interval*Misses. A zero interval disables the check.
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
	// ShutdownTimeout bounds killing a kernel whose channel closed.
	ShutdownTimeout time.Duration
	Launcher        core.Launcher
	Resolver        SpecResolver
	Logger          pslog.Logger
}
