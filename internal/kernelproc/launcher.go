// Package kernelproc runs local kernels as child processes that exchange
// JSONL protocol messages over stdin and stdout.
package kernelproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const (
	connectionFileToken = "{connection_file}"
	resourceDirToken    = "{resource_dir}"
	defaultQueueDepth   = 256
)

// Config tunes the launcher.
type Config struct {
	// QueueDepth bounds outbound messages waiting for the kernel's stdin.
	QueueDepth int
	Logger     pslog.Logger
}

// Launcher starts local kernelspecs.
type Launcher struct {
	cfg Config
}

var _ core.Launcher = (*Launcher)(nil)

// NewLauncher constructs a Launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Launcher{cfg: cfg}
}

// Launch starts the kernel process described by req.Spec.
func (l *Launcher) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	spec := req.Spec
	if spec.Kind != "" && spec.Kind != schema.KernelKindLocal {
		return nil, core.NewLaunchError(core.LaunchErrorSpec, "launch", fmt.Errorf("%w: kind %q is not local", schema.ErrInvalidKernelSpec, spec.Kind))
	}
	argv := ExpandArgv(spec.Argv, spec.ResourceDir)
	if len(argv) == 0 {
		return nil, core.NewLaunchError(core.LaunchErrorSpec, "launch", fmt.Errorf("%w: empty argv", schema.ErrInvalidKernelSpec))
	}
	if err := ctx.Err(); err != nil {
		return nil, core.NewLaunchError(core.LaunchErrorCanceled, "launch", err)
	}
	logger := l.cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	log := logger.With("kernel", spec.Name, "session", req.SessionID)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = req.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, core.NewLaunchError(core.LaunchErrorProcess, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.NewLaunchError(core.LaunchErrorProcess, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, core.NewLaunchError(core.LaunchErrorProcess, "stderr pipe", err)
	}
	log.Debug("kernelproc start", "argv0", argv[0], "args", len(argv)-1, "workdir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		log.Warn("kernelproc start failed", "err", err)
		return nil, core.NewLaunchError(core.LaunchErrorProcess, "start", err)
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}
	proc := newProcess(processConfig{
		cmd:           cmd,
		pgid:          pgid,
		interruptMode: spec.InterruptMode,
		queueDepth:    l.cfg.QueueDepth,
		onMessage:     req.OnMessage,
		onExit:        req.OnExit,
		log:           log,
	})
	proc.start(stdin, stdout, stderr)
	log.Info("kernelproc started", "pid", cmd.Process.Pid, "pgid", pgid)
	return proc, nil
}

// ExpandArgv removes the connection file argument, which has no meaning for
// stdio kernels, and expands the resource directory.
func ExpandArgv(argv []string, resourceDir string) []string {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		if strings.Contains(arg, connectionFileToken) {
			// Drop the flag introducing a standalone connection file argument.
			if arg == connectionFileToken && len(out) > 1 && strings.HasPrefix(out[len(out)-1], "-") {
				out = out[:len(out)-1]
			}
			continue
		}
		if resourceDir != "" {
			arg = strings.ReplaceAll(arg, resourceDirToken, filepath.Clean(resourceDir))
		}
		out = append(out, arg)
	}
	return out
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(base)+len(extra))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if _, override := extra[key]; override {
			continue
		}
		out = append(out, entry)
	}
	for _, key := range keys {
		out = append(out, key+"="+extra[key])
	}
	return out
}

// errNotStarted is returned when signalling a process that never started.
var errNotStarted = errors.New("process not started")
