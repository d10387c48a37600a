package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/internal/kernelmock"
	"pkt.systems/kernelx/internal/wire"
	"pkt.systems/kernelx/schema"
)

// pipeKernel serves the mock kernel in-process over a pair of pipes.
type pipeKernel struct {
	enc    *wire.Encoder
	in     *io.PipeWriter
	exited chan struct{}
	once   sync.Once
}

func (p *pipeKernel) Send(msg schema.Message) error {
	return p.enc.Encode(msg)
}

func (p *pipeKernel) ForceShutdown(ctx context.Context) error {
	p.once.Do(func() { _ = p.in.Close() })
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pipeLauncher struct {
	mu       sync.Mutex
	requests []core.LaunchRequest
}

func (l *pipeLauncher) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	l.mu.Unlock()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	kernel := kernelmock.New(outW, nil)
	transport := &pipeKernel{enc: wire.NewEncoder(inW), in: inW, exited: make(chan struct{})}
	go func() {
		_ = kernel.Serve(context.Background(), inR)
		_ = outW.Close()
	}()
	go func() {
		defer close(transport.exited)
		dec := wire.NewDecoder(outR)
		for {
			msg, err := dec.Next(context.Background())
			if err != nil {
				return
			}
			req.OnMessage(msg)
		}
	}()
	return transport, nil
}

func (l *pipeLauncher) workingDirs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.requests))
	for _, req := range l.requests {
		out = append(out, req.WorkingDir)
	}
	return out
}

type countingTelemetry struct {
	mu       sync.Mutex
	statuses []string
}

func (c *countingTelemetry) ReportReplEvent(language string, status string, sessionID schema.SessionID) {
	c.mu.Lock()
	c.statuses = append(c.statuses, status)
	c.mu.Unlock()
}

func writeScript(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cells.mock")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func mockSpec() schema.KernelSpecification {
	return schema.KernelSpecification{Name: "mock", LanguageName: kernelmock.Language, Argv: []string{"kernelx", "kernel-mock"}}
}

func runScript(t *testing.T, text string, mutate func(*runOptions)) (string, *pipeLauncher, error) {
	t.Helper()
	launcher := &pipeLauncher{}
	var out bytes.Buffer
	opts := runOptions{
		Path:        writeScript(t, text),
		Spec:        mockSpec(),
		Session:     schema.SessionConfig{ShutdownGrace: 200 * time.Millisecond},
		CellTimeout: 5 * time.Second,
		Launcher:    launcher,
		Telemetry:   &countingTelemetry{},
		Out:         &out,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := runFile(ctx, opts)
	return out.String(), launcher, err
}

func TestRunFilePrintsCellOutputs(t *testing.T) {
	out, launcher, err := runScript(t, "x = 2\n\n# %%\nprint(\"x is\", x)\n\n# %%\nx * 21\n", nil)
	if err != nil {
		t.Fatalf("runFile: %v\n%s", err, out)
	}
	for _, want := range []string{"[1] x = 2", "[2] print(\"x is\", x)", "    x is 2", "[3] x * 21", "    42"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	dirs := launcher.workingDirs()
	if len(dirs) != 1 {
		t.Fatalf("expected one launch, got %d", len(dirs))
	}
}

func TestRunFileStopsAfterFailedCell(t *testing.T) {
	out, _, err := runScript(t, "1 / 0\n# %%\nprint(\"after\")\n", nil)
	if !errors.Is(err, errCellFailed) {
		t.Fatalf("expected errCellFailed, got %v", err)
	}
	if !strings.Contains(out, "ZeroDivisionError") {
		t.Fatalf("expected error in output:\n%s", out)
	}
	if strings.Contains(out, "after") {
		t.Fatalf("second cell must not run:\n%s", out)
	}
}

func TestRunFileKeepGoing(t *testing.T) {
	out, _, err := runScript(t, "1 / 0\n# %%\nprint(\"after\")\n", func(opts *runOptions) {
		opts.KeepGoing = true
	})
	if !errors.Is(err, errCellFailed) {
		t.Fatalf("expected errCellFailed, got %v", err)
	}
	if !strings.Contains(out, "    after") {
		t.Fatalf("expected second cell output:\n%s", out)
	}
}

func TestRunFileInterruptsSlowCell(t *testing.T) {
	out, _, err := runScript(t, "sleep(10000)\n", func(opts *runOptions) {
		opts.CellTimeout = 100 * time.Millisecond
	})
	if !errors.Is(err, errCellFailed) {
		t.Fatalf("expected errCellFailed, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "KeyboardInterrupt") {
		t.Fatalf("expected interrupt in output:\n%s", out)
	}
}

func TestRunFileWorkingDirOverride(t *testing.T) {
	dir := t.TempDir()
	_, launcher, err := runScript(t, "1\n", func(opts *runOptions) {
		opts.WorkingDir = dir
	})
	if err != nil {
		t.Fatalf("runFile: %v", err)
	}
	dirs := launcher.workingDirs()
	if len(dirs) != 1 || dirs[0] != dir {
		t.Fatalf("unexpected working dirs %v", dirs)
	}
}

func TestRunFileEmptyDocument(t *testing.T) {
	out, launcher, err := runScript(t, "\n# %%\n\n", nil)
	if err != nil {
		t.Fatalf("runFile: %v", err)
	}
	if out != "" || len(launcher.workingDirs()) != 0 {
		t.Fatalf("expected nothing to run, got %q", out)
	}
}

func TestWriteCellHidesFinishedStatus(t *testing.T) {
	var out bytes.Buffer
	writeCell(&out, 1, cellFor("pass"), schema.BlockSnapshot{
		Status: schema.StatusOf(schema.ExecutionFinished),
		Lines:  []string{schema.StatusMarker + "Finished"},
	})
	if out.String() != "[1] pass\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	out.Reset()
	writeCell(&out, 2, cellFor("boom()"), schema.BlockSnapshot{
		Status: schema.Errored("NameError: boom"),
		Lines:  []string{schema.StderrMarker + "trace", schema.StatusMarker + "Error: NameError: boom"},
	})
	want := "[2] boom()\n    trace\n    ! Error: NameError: boom\n"
	if out.String() != want {
		t.Fatalf("unexpected output %q", out.String())
	}
}
