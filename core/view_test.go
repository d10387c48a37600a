package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"pkt.systems/kernelx/internal/format"
	"pkt.systems/kernelx/schema"
)

func pushTo(v *executionView, content schema.Content) bool {
	parent := schema.Message{Header: schema.Header{MsgID: "m1", Session: "s"}}
	return v.Push(schema.Reply(parent, content))
}

func newTestView() *executionView {
	return newExecutionView(schema.StatusOf(schema.ExecutionQueued), format.NewPlainRenderer(), 0)
}

func TestViewShowsStatusUntilOutputArrives(t *testing.T) {
	v := newTestView()
	lines := v.Lines()
	if len(lines) != 1 || lines[0] != schema.StatusMarker+"Queued" {
		t.Fatalf("unexpected status lines %q", lines)
	}
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: "one\ntw"})
	pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: "o\n"})
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateIdle})
	lines = v.Lines()
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("unexpected lines %q", lines)
	}
	if !v.Status().Finished() {
		t.Fatalf("expected finished, got %v", v.Status())
	}
}

func TestViewSeparatesStreams(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: "out\n"})
	pushTo(v, schema.StreamContent{Name: schema.StreamStderr, Text: "err\n"})
	outputs := v.Outputs()
	if len(outputs) != 2 || outputs[1].Stream != schema.StreamStderr {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
	lines := v.Lines()
	if lines[1] != schema.StderrMarker+"err" {
		t.Fatalf("unexpected stderr line %q", lines[1])
	}
}

func TestViewClearOutputWaitDefersUntilNextOutput(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: "first\n"})
	if pushTo(v, schema.ClearOutput{Wait: true}) {
		t.Fatalf("deferred clear must not change the view")
	}
	if len(v.Outputs()) != 1 {
		t.Fatalf("expected output to remain until next output")
	}
	pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: "second\n"})
	outputs := v.Outputs()
	if len(outputs) != 1 || outputs[0].Lines[0] != "second" {
		t.Fatalf("unexpected outputs %+v", outputs)
	}
	pushTo(v, schema.ClearOutput{})
	if len(v.Outputs()) != 0 {
		t.Fatalf("expected immediate clear")
	}
}

func TestViewExecuteReplyErrorMarksErrored(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	pushTo(v, schema.ErrorOutput{EName: "NameError", EValue: "x", Traceback: []string{"tb"}})
	pushTo(v, schema.ExecuteReply{Status: "error", EName: "NameError", EValue: "x"})
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateIdle})
	status := v.Status()
	if status.Kind != schema.ExecutionKernelErrored || status.Message != "NameError: x" {
		t.Fatalf("unexpected status %v", status)
	}
	lines := v.Lines()
	if lines[len(lines)-1] != schema.StatusMarker+"Error: NameError: x" {
		t.Fatalf("expected errored status line, got %q", lines)
	}
}

func TestViewPagePayloadAppendsData(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.ExecuteReply{Status: "ok", Payload: []schema.Payload{
		{Source: schema.PayloadSourcePage, Data: schema.MimeBundle{"text/plain": "help text"}},
		{Source: "set_next_input"},
	}})
	lines := v.Lines()
	if len(lines) != 1 || lines[0] != "help text" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestViewMarkErroredSkipsFinished(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateIdle})
	if v.MarkErrored("boom") {
		t.Fatalf("finished view must not be marked errored")
	}
	other := newTestView()
	if !other.MarkErrored("boom") || other.Status() != schema.Errored("boom") {
		t.Fatalf("expected errored status, got %v", other.Status())
	}
}

func TestViewLinesRespectMaxLines(t *testing.T) {
	v := newExecutionView(schema.StatusOf(schema.ExecutionQueued), format.NewPlainRenderer(), 3)
	for i := 0; i < 10; i++ {
		pushTo(v, schema.StreamContent{Name: schema.StreamStdout, Text: fmt.Sprintf("line %d\n", i)})
	}
	lines := v.Lines()
	if len(lines) != 3 || lines[2] != "line 9" {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestViewCloseCallsOnClose(t *testing.T) {
	v := newTestView()
	called := false
	v.onClose = func() { called = true }
	v.Close()
	if !called {
		t.Fatalf("expected onClose")
	}
}

func TestStartTaskRunsCallbacksInOrder(t *testing.T) {
	task := newStartTask()
	var order []int
	task.Then(func(error) { order = append(order, 1) })
	task.Then(func(error) { order = append(order, 2) })
	task.resolve(errors.New("boom"))
	task.resolve(nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected order %v", order)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := task.Wait(ctx); err == nil || err.Error() != "boom" {
		t.Fatalf("expected cached error, got %v", err)
	}
	late := make(chan error, 1)
	task.Then(func(err error) { late <- err })
	select {
	case err := <-late:
		if err == nil {
			t.Fatalf("expected cached error for late callback")
		}
	case <-time.After(time.Second):
		t.Fatalf("late callback never ran")
	}
}

func TestLaunchErrorKindOf(t *testing.T) {
	wrapped := fmt.Errorf("start: %w", NewLaunchError(LaunchErrorProcess, "exec", errors.New("no such file")))
	if got := LaunchErrorKindOf(wrapped); got != LaunchErrorProcess {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := LaunchErrorKindOf(context.DeadlineExceeded); got != LaunchErrorTimeout {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := LaunchErrorKindOf(errors.New("x")); got != LaunchErrorUnknown {
		t.Fatalf("unexpected kind %q", got)
	}
	if got := wrapped.Error(); got != "start: exec: no such file" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestExecutionStatusForKernelVariants(t *testing.T) {
	cases := []struct {
		kernel Kernel
		want   schema.ExecutionStatusKind
	}{
		{RunningKernel{}, schema.ExecutionQueued},
		{StartingKernel{}, schema.ExecutionConnectingToKernel},
		{ErroredLaunch{Message: "x"}, schema.ExecutionKernelErrored},
		{RestartingKernel{}, schema.ExecutionRestarting},
		{ShuttingDownKernel{}, schema.ExecutionShuttingDown},
		{ShutdownKernel{}, schema.ExecutionShutdown},
	}
	for _, tc := range cases {
		if got := executionStatusFor(tc.kernel).Kind; got != tc.want {
			t.Fatalf("%T: got %v want %v", tc.kernel, got, tc.want)
		}
	}
}

func TestViewErrorOutputSurvivesIdle(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	pushTo(v, schema.ErrorOutput{EName: "ZeroDivisionError", EValue: "division by zero"})
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateIdle})
	if got := v.Status(); got != schema.Errored("ZeroDivisionError: division by zero") {
		t.Fatalf("idle must not finish a failed execution, got %v", got)
	}
	pushTo(v, schema.ExecuteReply{Status: "error", EName: "ZeroDivisionError", EValue: "division by zero"})
	if got := v.Status(); got.Kind != schema.ExecutionKernelErrored {
		t.Fatalf("expected errored status, got %v", got)
	}
}

func TestViewErrorReplyAfterIdleOverridesFinished(t *testing.T) {
	v := newTestView()
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	pushTo(v, schema.Status{ExecutionState: schema.ExecutionStateIdle})
	if !v.Status().Finished() {
		t.Fatalf("expected finished before the reply, got %v", v.Status())
	}
	pushTo(v, schema.ExecuteReply{Status: "error", EName: "KeyboardInterrupt"})
	if got := v.Status(); got != schema.Errored("KeyboardInterrupt") {
		t.Fatalf("expected errored status, got %v", got)
	}
}

func TestViewErrorReplyKeepsShutdown(t *testing.T) {
	v := newTestView()
	v.SetStatus(schema.StatusOf(schema.ExecutionShutdown))
	pushTo(v, schema.ExecuteReply{Status: "error", EName: "NameError"})
	if got := v.Status().Kind; got != schema.ExecutionShutdown {
		t.Fatalf("expected shutdown status to stay, got %v", got)
	}
}
