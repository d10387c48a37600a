package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/kernelx/internal/appconfig"
	"pkt.systems/kernelx/internal/kernelgrpc"
	"pkt.systems/kernelx/internal/kernelproc"
	"pkt.systems/kernelx/internal/kernelspec"
	"pkt.systems/pslog"
)

func newGatewayCmd() *cobra.Command {
	var cfgPath string
	var socketPath string
	var keepaliveInterval time.Duration
	var keepaliveMisses int
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve local kernels to gateway clients over a unix socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if socketPath == "" {
				socketPath = cfg.Gateway.SocketPath
			}
			if keepaliveInterval == 0 {
				keepaliveInterval = time.Duration(cfg.Gateway.KeepaliveIntervalSeconds) * time.Second
			}
			if keepaliveMisses == 0 {
				keepaliveMisses = cfg.Gateway.KeepaliveMisses
			}
			registry := kernelspec.NewRegistry(cfg.Kernel.SpecDirs, logger)
			logger.Info("gateway config loaded", "socket", socketPath, "keepalive_interval", keepaliveInterval, "keepalive_misses", keepaliveMisses, "spec_dirs", len(registry.Dirs()))

			server := kernelgrpc.NewServer(kernelgrpc.Config{
				SocketPath:        socketPath,
				KeepaliveInterval: keepaliveInterval,
				KeepaliveMisses:   keepaliveMisses,
				Launcher:          kernelproc.NewLauncher(kernelproc.Config{Logger: logger}),
				Resolver:          registry,
				Logger:            logger,
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&socketPath, "socket-path", "", "gateway socket path (overrides config)")
	cmd.Flags().DurationVar(&keepaliveInterval, "keepalive-interval", 0, "exit when no ping arrives for interval*misses (e.g. 10s)")
	cmd.Flags().IntVar(&keepaliveMisses, "keepalive-misses", 0, "missed pings before exit")
	return cmd
}
