package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/internal/appconfig"
	"pkt.systems/kernelx/internal/kernelgrpc"
	"pkt.systems/kernelx/internal/kernelproc"
	"pkt.systems/kernelx/internal/kernelspec"
	"pkt.systems/kernelx/internal/kernelws"
	"pkt.systems/kernelx/internal/telemetry"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// newLauncher routes kernelspecs to the transport for their kind.
func newLauncher(cfg appconfig.Config, logger pslog.Logger) core.KindRouter {
	return core.KindRouter{
		schema.KernelKindLocal: kernelproc.NewLauncher(kernelproc.Config{Logger: logger}),
		schema.KernelKindRemote: kernelws.NewLauncher(kernelws.Config{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Logger:  logger,
		}),
		schema.KernelKindGateway: kernelgrpc.NewLauncher(kernelgrpc.LauncherConfig{
			SocketPath: cfg.Gateway.SocketPath,
			Logger:     logger,
		}),
	}
}

// resolveSpec picks the kernelspec for name. Local kernels must be installed;
// remote and gateway kernels borrow metadata from a local spec when one
// exists and otherwise are described by name alone.
func resolveSpec(cfg appconfig.Config, registry *kernelspec.Registry, name string, kind string) (schema.KernelSpecification, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = cfg.Kernel.Default
	}
	if name == "" {
		return schema.KernelSpecification{}, errors.New("no kernel selected; pass --kernel or set kernel.default")
	}
	if kind == "" {
		kind = cfg.Kernel.Kind
	}
	spec, err := registry.Find(schema.KernelName(name))
	switch schema.KernelKind(kind) {
	case "", schema.KernelKindLocal:
		if err != nil {
			return schema.KernelSpecification{}, err
		}
		return spec, nil
	case schema.KernelKindRemote:
		if err != nil {
			spec = schema.KernelSpecification{Name: schema.KernelName(name)}
		}
		spec.Kind = schema.KernelKindRemote
		spec.Endpoint = cfg.Remote.BaseURL
	case schema.KernelKindGateway:
		if err != nil {
			spec = schema.KernelSpecification{Name: schema.KernelName(name)}
		}
		spec.Kind = schema.KernelKindGateway
		spec.Endpoint = cfg.Gateway.SocketPath
	default:
		return schema.KernelSpecification{}, fmt.Errorf("unsupported kernel kind %q", kind)
	}
	if err := spec.Validate(); err != nil {
		return schema.KernelSpecification{}, err
	}
	return spec, nil
}

// openTelemetry starts the telemetry recorder. The returned close function
// drains pending events and closes the store.
func openTelemetry(ctx context.Context, cfg appconfig.Config, logger pslog.Logger) (*telemetry.Recorder, func() error, error) {
	sinks := []telemetry.Sink{telemetry.LogSink{Logger: logger}}
	var store *telemetry.Store
	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.DBPath) != "" {
		opened, err := telemetry.Open(ctx, cfg.Telemetry.DBPath)
		if err != nil {
			return nil, nil, err
		}
		store = opened
		sinks = append(sinks, store)
	}
	recorder := telemetry.NewRecorder(telemetry.RecorderConfig{Logger: logger}, sinks...)
	closeFn := func() error {
		_ = recorder.Close()
		if store != nil {
			return store.Close()
		}
		return nil
	}
	return recorder, closeFn, nil
}
