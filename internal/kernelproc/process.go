package kernelproc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"pkt.systems/kernelx/internal/wire"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

type processConfig struct {
	cmd           *exec.Cmd
	pgid          int
	interruptMode schema.InterruptMode
	queueDepth    int
	onMessage     func(schema.Message)
	onExit        func(error)
	log           pslog.Logger
}

// Process is the transport of one running kernel process.
type Process struct {
	cfg    processConfig
	out    chan schema.Message
	exited chan struct{}
	closed atomic.Bool

	mu      sync.Mutex
	stdin   io.WriteCloser
	waitErr error
}

func newProcess(cfg processConfig) *Process {
	return &Process{
		cfg:    cfg,
		out:    make(chan schema.Message, cfg.queueDepth),
		exited: make(chan struct{}),
	}
}

func (p *Process) start(stdin io.WriteCloser, stdout, stderr io.Reader) {
	p.stdin = stdin
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readMessages(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readStderr(stderr)
	}()
	go p.writeMessages(stdin)
	go func() {
		readers.Wait()
		err := p.cfg.cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.exited)
		if p.closed.Load() {
			p.cfg.log.Info("kernelproc exited")
			return
		}
		if err != nil {
			p.cfg.log.Warn("kernelproc exited", "err", err)
		} else {
			p.cfg.log.Info("kernelproc exited on its own")
		}
		if p.cfg.onExit != nil {
			p.cfg.onExit(err)
		}
	}()
}

func (p *Process) readMessages(stdout io.Reader) {
	dec := wire.NewDecoder(stdout)
	count := 0
	for {
		msg, err := dec.Next(context.Background())
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				p.cfg.log.Warn("kernelproc decode failed", "err", err, "line", previewText(string(decodeErr.Line()), 200))
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.cfg.log.Debug("kernelproc stdout closed", "err", err, "messages", count)
			}
			return
		}
		count++
		if p.cfg.onMessage != nil {
			p.cfg.onMessage(msg)
		}
	}
}

func (p *Process) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.cfg.log.Debug("kernelproc stderr", "line", scanner.Text())
	}
}

func (p *Process) writeMessages(stdin io.WriteCloser) {
	enc := wire.NewEncoder(stdin)
	for {
		select {
		case msg := <-p.out:
			if err := enc.Encode(msg); err != nil {
				p.cfg.log.Debug("kernelproc write failed", "msg_type", msg.Header.MsgType, "err", err)
			}
		case <-p.exited:
			return
		}
	}
}

// Send queues msg for the kernel without blocking. With signal interrupt
// mode an interrupt_request becomes SIGINT to the process group.
func (p *Process) Send(msg schema.Message) error {
	if p.closed.Load() {
		return schema.ErrTransportClosed
	}
	select {
	case <-p.exited:
		return schema.ErrTransportClosed
	default:
	}
	if msg.Header.MsgType == schema.MsgInterruptRequest && p.cfg.interruptMode != schema.InterruptModeMessage {
		p.cfg.log.Debug("kernelproc interrupt", "mode", "signal")
		return p.signal(unix.SIGINT)
	}
	select {
	case p.out <- msg:
		return nil
	default:
		return schema.ErrTransportFull
	}
}

// ForceShutdown kills the process group and waits for the process to exit
// or ctx to end.
func (p *Process) ForceShutdown(ctx context.Context) error {
	if p.closed.CompareAndSwap(false, true) {
		p.cfg.log.Debug("kernelproc kill")
		if err := p.signal(unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			p.cfg.log.Warn("kernelproc kill failed", "err", err)
		}
		p.mu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		p.mu.Unlock()
	}
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Err returns the process exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) signal(sig unix.Signal) error {
	cmd := p.cfg.cmd
	if cmd == nil || cmd.Process == nil {
		return errNotStarted
	}
	// Descendants are listed first: once the root dies they are re-parented
	// and can no longer be found through it.
	descendants := processDescendants(cmd.Process.Pid)
	if p.cfg.pgid > 0 {
		if err := unix.Kill(-p.cfg.pgid, sig); err == nil {
			signalAll(descendants, sig)
			return nil
		}
	}
	if err := cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return unix.ESRCH
		}
		return err
	}
	signalAll(descendants, sig)
	return nil
}

// processDescendants lists the descendants of root, including those that
// moved to their own process group.
func processDescendants(root int) []int {
	if root <= 0 {
		return nil
	}
	children, err := listProcessChildren(root)
	if err != nil {
		return nil
	}
	return children
}

func signalAll(pids []int, sig unix.Signal) {
	for _, pid := range pids {
		_ = unix.Kill(pid, sig)
	}
}

func listProcessChildren(root int) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	parents := make(map[int][]int)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		ppid, err := readPPid(pid)
		if err != nil {
			continue
		}
		parents[ppid] = append(parents[ppid], pid)
	}
	var out []int
	queue := []int{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range parents[cur] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

func readPPid(pid int) (int, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PPid:") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, errors.New("ppid missing")
			}
			return strconv.Atoi(fields[1])
		}
	}
	return 0, errors.New("ppid not found")
}

func previewText(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
