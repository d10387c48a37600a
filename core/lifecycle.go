package core

import (
	"context"
	"errors"
	"time"

	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// errKillTimeout is reported when a forced kill outlives its grace period.
var errKillTimeout = errors.New("forced kill did not finish within grace period")

// startKernelLocked enters StartingKernel and launches the kernel in the
// background. The launch goroutine settles the kernel variant before it
// resolves the shared task.
func (s *Session) startKernelLocked(fx *effects) {
	task := newStartTask()
	s.setKernelLocked(fx, StartingKernel{task: task})
	wp := s.self
	req := LaunchRequest{
		Spec:       s.spec,
		WorkingDir: s.workingDirLocked(),
		SessionID:  s.id,
		OnMessage: func(msg schema.Message) {
			if sess := wp.Value(); sess != nil {
				sess.Route(msg)
			}
		},
		OnExit: func(err error) {
			if sess := wp.Value(); sess != nil {
				sess.kernelExited(task, err)
			}
		},
	}
	launcher := s.launcher
	ctx := s.ctx
	log := s.log
	grace := s.cfg.ShutdownGrace
	after := s.after
	log.Info("session kernel launch start", "working_dir", req.WorkingDir, "kind", s.spec.Kind)
	go func() {
		transport, err := launchKernel(ctx, launcher, req)
		if sess := wp.Value(); sess != nil {
			sess.finishLaunch(task, transport, err)
		} else if transport != nil {
			_ = forceShutdown(context.Background(), transport, grace, after, log)
		}
		task.resolve(err)
	}()
}

func launchKernel(ctx context.Context, launcher Launcher, req LaunchRequest) (Transport, error) {
	if launcher == nil {
		return nil, NewLaunchError(LaunchErrorUnavailable, "launch", schema.ErrLauncherUnavailable)
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, NewLaunchError(LaunchErrorSpec, "launch", err)
	}
	transport, err := launcher.Launch(ctx, req)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, NewLaunchError(LaunchErrorUnknown, "launch", errors.New("launcher returned no transport"))
	}
	return transport, nil
}

func (s *Session) finishLaunch(task *startTask, transport Transport, err error) {
	s.mu.Lock()
	current, ok := s.kernel.(StartingKernel)
	if s.closed || !ok || current.task != task {
		s.mu.Unlock()
		if transport != nil {
			s.log.Info("session stale kernel discarded")
			if killErr := forceShutdown(context.Background(), transport, s.cfg.ShutdownGrace, s.after, s.log); killErr != nil {
				s.log.Warn("session stale kernel kill failed", "err", killErr)
			}
		}
		return
	}
	fx := &effects{}
	if err != nil {
		s.kernelErroredLocked(fx, err.Error())
		s.mu.Unlock()
		s.flush(fx)
		s.log.Warn("session kernel launch failed", "err", err, "kind", LaunchErrorKindOf(err))
		return
	}
	if task.exited != "" {
		s.kernelErroredLocked(fx, task.exited)
		s.mu.Unlock()
		s.flush(fx)
		s.log.Warn("session kernel exited during launch", "err", task.exited)
		if killErr := forceShutdown(context.Background(), transport, s.cfg.ShutdownGrace, s.after, s.log); killErr != nil {
			s.log.Debug("session exited kernel kill failed", "err", killErr)
		}
		return
	}
	s.setKernelLocked(fx, RunningKernel{Transport: transport, ExecutionState: schema.ExecutionStateIdle, task: task})
	fx.sends = append(fx.sends, pendingSend{transport: transport, msg: schema.NewMessage(schema.KernelInfoRequest{}, s.id)})
	s.mu.Unlock()
	s.flush(fx)
	s.log.Info("session kernel running")
}

// kernelErroredLocked enters ErroredLaunch and marks every unfinished block
// errored with the same reason.
func (s *Session) kernelErroredLocked(fx *effects, message string) {
	s.setKernelLocked(fx, ErroredLaunch{Message: message})
	for _, block := range s.sortedBlocksLocked() {
		if block.view.MarkErrored(message) {
			fx.events = append(fx.events, s.blockEventLocked(block))
		}
	}
}

// KernelErrored moves the session to ErroredLaunch with message and marks
// every unfinished block errored. A running transport is killed in the
// background.
func (s *Session) KernelErrored(message string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.erroredUnlock(message)
}

// erroredUnlock enters ErroredLaunch and releases the session lock.
func (s *Session) erroredUnlock(message string) {
	running, wasRunning := s.kernel.(RunningKernel)
	fx := &effects{}
	s.kernelErroredLocked(fx, message)
	s.mu.Unlock()
	s.flush(fx)
	s.log.Warn("session kernel errored", "err", message)
	if !wasRunning {
		return
	}
	transport := running.Transport
	grace := s.cfg.ShutdownGrace
	after := s.after
	log := s.log
	go func() {
		if err := forceShutdown(context.Background(), transport, grace, after, log); err != nil {
			log.Debug("session errored kernel kill failed", "err", err)
		}
	}()
}

// kernelExited handles a transport reporting that its kernel went away.
// Exits of kernels the session already moved past are ignored.
func (s *Session) kernelExited(task *startTask, err error) {
	message := "kernel exited"
	if err != nil {
		message = "kernel exited: " + err.Error()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	switch kernel := s.kernel.(type) {
	case RunningKernel:
		if kernel.task == task {
			s.erroredUnlock(message)
			return
		}
	case StartingKernel:
		if kernel.task == task {
			task.exited = message
			s.mu.Unlock()
			s.log.Debug("session kernel exited before launch resolved", "err", err)
			return
		}
	}
	status := s.kernel.Status()
	s.mu.Unlock()
	s.log.Debug("session kernel exit ignored", "kernel", status, "err", err)
}

// Interrupt asks a running kernel to interrupt the current execution. It is
// a no-op in every other state, including while the kernel starts.
func (s *Session) Interrupt(ctx context.Context) {
	s.mu.Lock()
	running, ok := s.kernel.(RunningKernel)
	closed := s.closed
	s.mu.Unlock()
	if closed || !ok {
		s.log.Debug("session interrupt ignored", "kernel", s.KernelStatus())
		return
	}
	s.log.Info("session interrupt")
	s.send(running.Transport, schema.NewMessage(schema.InterruptRequest{}, s.id))
}

// Shutdown stops the kernel. The session is ShuttingDown when Shutdown
// returns and reaches Shutdown with no blocks once the forced kill finishes
// or the shutdown grace period elapses, whichever comes first.
func (s *Session) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	previous := s.kernel
	fx := &effects{}
	s.setKernelLocked(fx, ShuttingDownKernel{})
	running, wasRunning := previous.(RunningKernel)
	if !wasRunning {
		s.clearBlocksLocked(fx)
		s.setKernelLocked(fx, ShutdownKernel{})
		s.mu.Unlock()
		s.flush(fx)
		s.log.Info("session shutdown", "from", previous.Status())
		return
	}
	s.mu.Unlock()
	s.flush(fx)

	s.log.Info("session shutdown start")
	s.send(running.Transport, schema.NewMessage(schema.ShutdownRequest{Restart: false}, s.id))
	wp := s.self
	transport := running.Transport
	grace := s.cfg.ShutdownGrace
	after := s.after
	log := s.log
	killCtx := context.WithoutCancel(ctx)
	go func() {
		if err := forceShutdown(killCtx, transport, grace, after, log); err != nil {
			log.Warn("session kernel kill failed", "err", err)
		}
		if sess := wp.Value(); sess != nil {
			sess.finishShutdown()
		}
	}()
}

func (s *Session) finishShutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.kernel.(ShuttingDownKernel); !ok {
		s.mu.Unlock()
		return
	}
	fx := &effects{}
	s.clearBlocksLocked(fx)
	s.setKernelLocked(fx, ShutdownKernel{})
	s.mu.Unlock()
	s.flush(fx)
	s.log.Info("session shutdown complete")
}

// Restart tears down the current kernel and starts a new one. Calling it
// while a restart is already in progress does nothing.
func (s *Session) Restart(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	previous := s.kernel
	if _, ok := previous.(RestartingKernel); ok {
		s.mu.Unlock()
		s.log.Debug("session restart ignored", "reason", "already restarting")
		return
	}
	fx := &effects{}
	s.setKernelLocked(fx, RestartingKernel{})
	running, wasRunning := previous.(RunningKernel)
	if !wasRunning {
		s.clearBlocksLocked(fx)
		s.startKernelLocked(fx)
		s.mu.Unlock()
		s.flush(fx)
		s.log.Info("session restart", "from", previous.Status())
		return
	}
	s.mu.Unlock()
	s.flush(fx)

	s.log.Info("session restart start")
	s.send(running.Transport, schema.NewMessage(schema.ShutdownRequest{Restart: true}, s.id))
	wp := s.self
	transport := running.Transport
	restartGrace := s.cfg.RestartGrace
	shutdownGrace := s.cfg.ShutdownGrace
	after := s.after
	log := s.log
	killCtx := context.WithoutCancel(ctx)
	go func() {
		<-after(restartGrace)
		if err := forceShutdown(killCtx, transport, shutdownGrace, after, log); err != nil {
			log.Warn("session kernel kill failed", "err", err)
		}
		if sess := wp.Value(); sess != nil {
			sess.finishRestart()
		}
	}()
}

func (s *Session) finishRestart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.kernel.(RestartingKernel); !ok {
		s.mu.Unlock()
		return
	}
	fx := &effects{}
	s.clearBlocksLocked(fx)
	s.startKernelLocked(fx)
	s.mu.Unlock()
	s.flush(fx)
}

// Close tears the session down when its document goes away: it stops
// listening for edits, drops every block and kills the kernel. Pending
// continuations become no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	previous := s.kernel
	fx := &effects{}
	s.clearBlocksLocked(fx)
	if _, ok := previous.(ShutdownKernel); !ok {
		s.setKernelLocked(fx, ShutdownKernel{})
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	s.flush(fx)
	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.log.Info("session closed")
	if running, ok := previous.(RunningKernel); ok {
		return forceShutdown(context.Background(), running.Transport, s.cfg.ShutdownGrace, s.after, s.log)
	}
	return nil
}

// forceShutdown kills the transport and waits at most grace for it.
func forceShutdown(ctx context.Context, transport Transport, grace time.Duration, after func(time.Duration) <-chan time.Time, log pslog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- transport.ForceShutdown(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-after(grace):
		log.Debug("session kernel kill timed out", "grace", grace)
		return errKillTimeout
	}
}
