package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/internal/appconfig"
	"pkt.systems/kernelx/internal/document"
	"pkt.systems/kernelx/internal/eventbus"
	"pkt.systems/kernelx/internal/kernelspec"
	"pkt.systems/kernelx/internal/logx"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// errCellFailed is returned when at least one cell ended in an error.
var errCellFailed = errors.New("one or more cells failed")

func newRunCmd() *cobra.Command {
	var cfgPath string
	var kernelName string
	var kernelKind string
	var cellTimeout time.Duration
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute the cells of a file and print their outputs",
		Long:  "Execute the cells of a file and print their outputs. Cells are separated by lines starting with \"# %%\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			registry := kernelspec.NewRegistry(cfg.Kernel.SpecDirs, logger)
			spec, err := resolveSpec(cfg, registry, kernelName, kernelKind)
			if err != nil {
				return err
			}
			if cellTimeout == 0 {
				cellTimeout = time.Duration(cfg.Run.CellTimeoutSeconds) * time.Second
			}
			recorder, closeTelemetry, err := openTelemetry(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeTelemetry(); err != nil {
					logger.Warn("telemetry close failed", "err", err)
				}
			}()
			return runFile(ctx, runOptions{
				Path:        args[0],
				WorkingDir:  cfg.Kernel.WorkingDir,
				Spec:        spec,
				Session:     cfg.SessionSettings(),
				CellTimeout: cellTimeout,
				KeepGoing:   keepGoing,
				Launcher:    newLauncher(cfg, logger),
				Telemetry:   recorder,
				Out:         cmd.OutOrStdout(),
				Logger:      logger,
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&kernelName, "kernel", "k", "", "kernelspec name (defaults to kernel.default)")
	cmd.Flags().StringVar(&kernelKind, "kind", "", "kernel kind: local, remote or gateway (defaults to kernel.kind)")
	cmd.Flags().DurationVar(&cellTimeout, "cell-timeout", 0, "interrupt a cell that runs longer than this")
	cmd.Flags().BoolVar(&keepGoing, "keep-going", false, "run remaining cells after a failure")
	return cmd
}

type runOptions struct {
	Path        string
	WorkingDir  string
	Spec        schema.KernelSpecification
	Session     schema.SessionConfig
	CellTimeout time.Duration
	KeepGoing   bool
	Launcher    core.Launcher
	Telemetry   core.Telemetry
	Out         io.Writer
	Logger      pslog.Logger
}

func runFile(ctx context.Context, opts runOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if opts.WorkingDir != "" {
		// The session takes its working directory from the document path.
		path = filepath.Join(opts.WorkingDir, filepath.Base(path))
	}
	doc := document.NewWithPath(string(data), path)
	defer doc.Close()

	cells := doc.Cells()
	if len(cells) == 0 {
		logger.Info("run nothing to execute", "path", opts.Path)
		return nil
	}

	bus := eventbus.New(logger)
	events, unsubscribe := bus.Subscribe(eventbus.AllSessions)
	defer unsubscribe()

	sess, err := core.NewSession(ctx, opts.Session, opts.Spec, core.SessionDeps{
		Document:  doc,
		Launcher:  opts.Launcher,
		Telemetry: opts.Telemetry,
		EventSink: bus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	log := logx.WithSession(logx.WithKernel(logger, opts.Spec.Name), sess.ID())
	log.Info("run start", "path", opts.Path, "cells", len(cells))
	defer func() {
		stopSession(ctx, sess, events, opts.Session.ShutdownGrace)
		if err := sess.Close(); err != nil {
			log.Debug("run session close", "err", err)
		}
	}()

	failed := false
	for i, cell := range cells {
		snapshot, err := runCell(ctx, sess, events, cell, opts.CellTimeout)
		if err != nil {
			return err
		}
		writeCell(opts.Out, i+1, cell, snapshot)
		if snapshot.Status.Kind != schema.ExecutionFinished {
			failed = true
			log.Warn("run cell failed", "cell", i+1, "status", snapshot.Status.String())
			if !opts.KeepGoing {
				break
			}
		}
	}
	log.Info("run done", "failed", failed)
	if failed {
		return errCellFailed
	}
	return nil
}

func runCell(ctx context.Context, sess *core.Session, events <-chan schema.SessionEvent, cell document.Cell, timeout time.Duration) (schema.BlockSnapshot, error) {
	before := make(map[schema.MessageID]struct{})
	for _, block := range sess.Blocks() {
		before[block.MsgID] = struct{}{}
	}
	if err := sess.Execute(ctx, core.ExecuteRequest{Code: cell.Code, Range: cell.Range}); err != nil {
		return schema.BlockSnapshot{}, err
	}
	var msgID schema.MessageID
	for _, block := range sess.Blocks() {
		if _, ok := before[block.MsgID]; !ok {
			msgID = block.MsgID
		}
	}
	if msgID == "" {
		return schema.BlockSnapshot{}, errors.New("execute produced no output block")
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	// Events can be dropped when the subscriber falls behind, so poll too.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	interrupted := false
	for {
		snapshot, ok := blockSnapshot(sess, msgID)
		if !ok {
			return schema.BlockSnapshot{MsgID: msgID, Status: schema.StatusOf(schema.ExecutionShutdown)}, nil
		}
		if snapshot.Status.Terminal() {
			if interrupted && snapshot.Status.Kind == schema.ExecutionFinished {
				snapshot.Status = schema.Errored("cell timed out")
			}
			return snapshot, nil
		}
		select {
		case <-ctx.Done():
			return schema.BlockSnapshot{}, ctx.Err()
		case <-deadline:
			deadline = nil
			interrupted = true
			sess.Interrupt(ctx)
		case <-events:
		case <-ticker.C:
		}
	}
}

func blockSnapshot(sess *core.Session, msgID schema.MessageID) (schema.BlockSnapshot, bool) {
	for _, block := range sess.Blocks() {
		if block.MsgID == msgID {
			return block, true
		}
	}
	return schema.BlockSnapshot{}, false
}

// stopSession shuts the kernel down politely and waits at most grace plus a
// second for the session to report it.
func stopSession(ctx context.Context, sess *core.Session, events <-chan schema.SessionEvent, grace time.Duration) {
	if sess.KernelStatus() == schema.KernelStatusShutdown {
		return
	}
	sess.Shutdown(context.WithoutCancel(ctx))
	if grace <= 0 {
		grace = schema.DefaultShutdownGrace
	}
	timer := time.NewTimer(grace + time.Second)
	defer timer.Stop()
	for sess.KernelStatus() != schema.KernelStatusShutdown {
		select {
		case <-timer.C:
			return
		case <-events:
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func writeCell(w io.Writer, n int, cell document.Cell, snapshot schema.BlockSnapshot) {
	first, _, _ := strings.Cut(cell.Code, "\n")
	_, _ = fmt.Fprintf(w, "[%d] %s\n", n, first)
	for _, line := range snapshot.Lines {
		if status, ok := strings.CutPrefix(line, schema.StatusMarker); ok {
			if snapshot.Status.Kind == schema.ExecutionFinished {
				continue
			}
			line = "! " + status
		}
		line = strings.TrimPrefix(line, schema.StderrMarker)
		_, _ = fmt.Fprintf(w, "    %s\n", line)
	}
}
