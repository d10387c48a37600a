package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/kernelx/internal/kernelmock"
	"pkt.systems/pslog"
)

func newKernelMockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernel-mock",
		Short: "Serve the mock kernel on stdin/stdout",
		Long:  "Serve the mock kernel on stdin/stdout. SIGINT interrupts the running cell; SIGTERM exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveMockKernel(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func serveMockKernel(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	logger := pslog.Ctx(ctx).With("component", "kernel-mock")
	kernel := kernelmock.New(stdout, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				kernel.Interrupt()
			}
		}
	}()
	logger.Debug("kernel-mock serving")
	return kernel.Serve(ctx, stdin)
}
