package core_test

import (
	"context"
	"testing"
	"time"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
)

func TestKernelExitWhileRunningMarksBlocksErrored(t *testing.T) {
	h := newHarness(t, threeRows, nil, nil)
	h.waitRunning(t)
	transport := h.launcher.transport(t, 0)
	h.execute(t, 0, "a = 1")

	h.launcher.exit(t, 0, errBoom)
	errored, ok := h.session.Kernel().(core.ErroredLaunch)
	if !ok || errored.Message != "kernel exited: boom" {
		t.Fatalf("expected errored kernel, got %#v", h.session.Kernel())
	}
	if status := h.session.Blocks()[0].Status; status != schema.Errored("kernel exited: boom") {
		t.Fatalf("expected open block errored, got %v", status)
	}
	waitFor(t, "transport release", func() bool { return transport.killCount() == 1 })

	h.execute(t, 1, "b = 2")
	if got := len(transport.sentOfType(schema.MsgExecuteRequest)); got != 1 {
		t.Fatalf("expected no sends to the dead kernel, got %d execute requests", got)
	}
}

func TestKernelExitKeepsFinishedBlocks(t *testing.T) {
	h := newHarness(t, threeRows, nil, nil)
	h.waitRunning(t)
	id := h.execute(t, 0, "a = 1")
	h.session.Route(replyTo(id, schema.Status{ExecutionState: schema.ExecutionStateIdle}))

	h.launcher.exit(t, 0, nil)
	if _, ok := h.session.Kernel().(core.ErroredLaunch); !ok {
		t.Fatalf("expected errored kernel, got %T", h.session.Kernel())
	}
	if status := h.session.Blocks()[0].Status; !status.Finished() {
		t.Fatalf("finished block must stay finished, got %v", status)
	}
}

func TestKernelExitDuringShutdownIsIgnored(t *testing.T) {
	timers := &manualTimers{}
	launcher := &fakeLauncher{prepare: func(tr *fakeTransport) { tr.killGate = make(chan struct{}) }}
	h := newHarness(t, threeRows, launcher, timers.After)
	h.waitRunning(t)

	h.session.Shutdown(context.Background())
	h.launcher.exit(t, 0, nil)
	if _, ok := h.session.Kernel().(core.ShuttingDownKernel); !ok {
		t.Fatalf("expected shutting down, got %T", h.session.Kernel())
	}
	waitFor(t, "grace timer", func() bool { return timers.count() == 1 })
	timers.fireAll()
	waitFor(t, "shutdown", func() bool { return h.session.KernelStatus() == schema.KernelStatusShutdown })
}

func TestKernelExitBeforeLaunchResolves(t *testing.T) {
	launcher := &fakeLauncher{gate: make(chan struct{})}
	h := newHarness(t, threeRows, launcher, nil)
	h.execute(t, 0, "a = 1")
	waitFor(t, "launch", func() bool { return launcher.launches() == 1 })

	h.launcher.exit(t, 0, errBoom)
	if _, ok := h.session.Kernel().(core.StartingKernel); !ok {
		t.Fatalf("expected still starting, got %T", h.session.Kernel())
	}
	close(launcher.gate)
	waitFor(t, "errored", func() bool { return h.session.KernelStatus() == schema.KernelStatusError })
	transport := h.launcher.transport(t, 0)
	waitFor(t, "transport release", func() bool { return transport.killCount() == 1 })
	if got := len(transport.sentOfType(schema.MsgExecuteRequest)); got != 0 {
		t.Fatalf("queued execute must not reach a dead kernel, got %d", got)
	}
	if status := h.session.Blocks()[0].Status; status.Kind != schema.ExecutionKernelErrored {
		t.Fatalf("expected errored block, got %v", status)
	}
}

func TestKernelErroredKillsRunningTransport(t *testing.T) {
	h := newHarness(t, threeRows, nil, nil)
	h.waitRunning(t)
	transport := h.launcher.transport(t, 0)

	h.session.KernelErrored("connection lost")
	if h.session.StatusText() != "Error: connection lost" {
		t.Fatalf("unexpected status text %q", h.session.StatusText())
	}
	waitFor(t, "transport release", func() bool { return transport.killCount() == 1 })

	h.session.Restart(context.Background())
	waitFor(t, "relaunch", func() bool { return h.launcher.launches() == 2 })
	h.waitRunning(t)
}

func TestLaunchFinishingAfterShutdownIsKilled(t *testing.T) {
	launcher := &fakeLauncher{gate: make(chan struct{})}
	h := newHarness(t, threeRows, launcher, nil)
	waitFor(t, "launch", func() bool { return launcher.launches() == 1 })

	h.session.Shutdown(context.Background())
	if _, ok := h.session.Kernel().(core.ShutdownKernel); !ok {
		t.Fatalf("expected shutdown while starting, got %T", h.session.Kernel())
	}
	close(launcher.gate)
	waitFor(t, "late transport", func() bool { return launcher.transportCount() == 1 })
	transport := h.launcher.transport(t, 0)
	waitFor(t, "stale kill", func() bool { return transport.killCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if _, ok := h.session.Kernel().(core.ShutdownKernel); !ok {
		t.Fatalf("late launch must not revive the session, got %T", h.session.Kernel())
	}
	if got := len(transport.sentOfType(schema.MsgKernelInfoRequest)); got != 0 {
		t.Fatalf("expected nothing sent to the stale kernel, got %d", got)
	}
}

func TestLaunchFinishingAfterRestartIsKilled(t *testing.T) {
	firstGate := make(chan struct{})
	launcher := &fakeLauncher{gate: firstGate}
	h := newHarness(t, threeRows, launcher, nil)
	waitFor(t, "first launch", func() bool { return launcher.launches() == 1 })

	launcher.setGate(nil)
	h.session.Restart(context.Background())
	waitFor(t, "second launch", func() bool { return launcher.launches() == 2 })
	running := h.waitRunning(t)
	current := h.launcher.transport(t, 0)
	if running.Transport != core.Transport(current) {
		t.Fatalf("expected the second launch to be running")
	}

	close(firstGate)
	waitFor(t, "stale transport", func() bool { return launcher.transportCount() == 2 })
	stale := h.launcher.transport(t, 1)
	waitFor(t, "stale kill", func() bool { return stale.killCount() == 1 })
	if current.killCount() != 0 {
		t.Fatalf("running transport must not be killed")
	}
	if _, ok := h.session.Kernel().(core.RunningKernel); !ok {
		t.Fatalf("expected running kernel, got %T", h.session.Kernel())
	}
}
