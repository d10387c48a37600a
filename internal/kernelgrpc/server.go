package kernelgrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const defaultShutdownTimeout = 5 * time.Second

// Server owns kernels on behalf of gateway clients.
type Server struct {
	cfg    Config
	logger pslog.Logger

	mu      sync.Mutex
	kernels map[schema.KernelID]*ownedKernel

	lastPingUnix int64
}

var _ GatewayServer = (*Server)(nil)

type ownedKernel struct {
	transport core.Transport
	once      sync.Once
	err       error
}

func (k *ownedKernel) shutdown(ctx context.Context) error {
	k.once.Do(func() {
		k.err = k.transport.ForceShutdown(ctx)
	})
	return k.err
}

// NewServer constructs a gateway server.
func NewServer(cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{cfg: cfg, logger: cfg.Logger, kernels: make(map[schema.KernelID]*ownedKernel)}
}

// ListenAndServe serves the gateway on a unix socket until ctx ends or the
// keepalive expires. Kernels still owned by the server are killed on exit.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("gateway socket path is required")
	}
	if s.cfg.Launcher == nil {
		return errors.New("gateway launcher is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.cfg.KeepaliveInterval > 0 && s.cfg.KeepaliveMisses <= 0 {
		s.cfg.KeepaliveMisses = 3
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	RegisterGatewayServer(grpcServer, s)
	s.logger.Info("gateway grpc listening", "socket", s.cfg.SocketPath)

	errCh := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.killAll()
	s.setLastPing(time.Now())
	if s.cfg.KeepaliveInterval > 0 {
		go s.keepaliveLoop(runCtx, cancel, grpcServer)
	}
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-runCtx.Done():
		// Streams stay open until their kernels die, so do not wait for them.
		grpcServer.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Ping updates the keepalive timer.
func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.setLastPing(time.Now())
	s.log(ctx).Trace("gateway ping")
	return &emptypb.Empty{}, nil
}

// Kill force-shuts the kernel with the given id.
func (s *Server) Kill(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id := schema.KernelID(req.GetValue())
	kernel := s.lookup(id)
	if kernel == nil {
		return nil, status.Errorf(codes.NotFound, "kernel %q not found", id)
	}
	log := s.log(ctx).With("kernel_id", id)
	log.Info("gateway kill")
	if err := kernel.shutdown(ctx); err != nil {
		log.Warn("gateway kill failed", "err", err)
		return nil, status.Errorf(codes.Internal, "kill failed: %v", err)
	}
	s.unregister(id)
	return &emptypb.Empty{}, nil
}

// Channel launches a kernel and relays its messages until either side ends.
func (s *Server) Channel(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	ctx := stream.Context()
	first, err := stream.Recv()
	if err != nil {
		return err
	}
	req := helloFromStruct(first)
	if req.KernelName == "" {
		return status.Error(codes.InvalidArgument, "kernel_name is required")
	}
	id := schema.KernelID(uuid.NewString())
	log := s.log(ctx).With("kernel", req.KernelName, "kernel_id", id, "session", req.SessionID)

	spec, err := s.resolve(req.KernelName)
	if err != nil {
		log.Warn("gateway kernel lookup failed", "err", err)
		return status.Errorf(codes.NotFound, "%v", err)
	}
	if spec.Kind == schema.KernelKindGateway {
		return status.Errorf(codes.InvalidArgument, "kernel %s is itself a gateway kernel", req.KernelName)
	}

	// Frames from the kernel wait on sendMu until the kernel_id reply is out.
	var (
		sendMu sync.Mutex
		ended  bool
	)
	sendMu.Lock()
	onMessage := func(msg schema.Message) {
		frame, err := toStruct(msg)
		if err != nil {
			log.Warn("gateway encode failed", "msg_type", msg.Header.MsgType, "err", err)
			return
		}
		sendMu.Lock()
		defer sendMu.Unlock()
		if ended {
			return
		}
		if err := stream.Send(frame); err != nil {
			log.Debug("gateway relay failed", "err", err)
		}
	}
	launchCtx := pslog.ContextWithLogger(ctx, log)
	transport, err := s.cfg.Launcher.Launch(launchCtx, core.LaunchRequest{
		Spec:       spec,
		WorkingDir: req.WorkingDir,
		SessionID:  req.SessionID,
		OnMessage:  onMessage,
	})
	if err != nil {
		ended = true
		sendMu.Unlock()
		log.Warn("gateway launch failed", "err", err)
		return launchStatus(err)
	}
	kernel := &ownedKernel{transport: transport}
	s.register(id, kernel)
	defer func() {
		sendMu.Lock()
		ended = true
		sendMu.Unlock()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := kernel.shutdown(shutdownCtx); err != nil {
			log.Warn("gateway kernel shutdown failed", "err", err)
		}
		s.unregister(id)
		log.Info("gateway channel closed")
	}()

	reply, err := structpb.NewStruct(map[string]any{helloKernelID: string(id)})
	if err == nil {
		err = stream.Send(reply)
	}
	sendMu.Unlock()
	if err != nil {
		return err
	}
	log.Info("gateway kernel launched")

	recvErr := make(chan error, 1)
	go func() {
		for {
			frame, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			msg, err := fromStruct(frame)
			if err != nil {
				log.Warn("gateway decode failed", "err", err)
				continue
			}
			if err := transport.Send(msg); err != nil {
				log.Warn("gateway forward failed", "msg_type", msg.Header.MsgType, "err", err)
			}
		}
	}()

	var exited <-chan struct{}
	if done, ok := transport.(interface{ Done() <-chan struct{} }); ok {
		exited = done.Done()
	}
	select {
	case <-ctx.Done():
		return nil
	case <-recvErr:
		return nil
	case <-exited:
		log.Info("gateway kernel exited")
		return nil
	}
}

func (s *Server) resolve(name schema.KernelName) (schema.KernelSpecification, error) {
	if s.cfg.Resolver == nil {
		return schema.KernelSpecification{}, schema.ErrKernelNotFound
	}
	return s.cfg.Resolver.Find(name)
}

func (s *Server) register(id schema.KernelID, kernel *ownedKernel) {
	s.mu.Lock()
	s.kernels[id] = kernel
	s.mu.Unlock()
}

func (s *Server) unregister(id schema.KernelID) {
	s.mu.Lock()
	delete(s.kernels, id)
	s.mu.Unlock()
}

func (s *Server) lookup(id schema.KernelID) *ownedKernel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernels[id]
}

// Kernels returns the number of kernels currently owned by the server.
func (s *Server) Kernels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kernels)
}

func (s *Server) killAll() {
	s.mu.Lock()
	kernels := s.kernels
	s.kernels = make(map[schema.KernelID]*ownedKernel)
	s.mu.Unlock()
	if len(kernels) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	for id, kernel := range kernels {
		if err := kernel.shutdown(ctx); err != nil {
			s.logger.Warn("gateway kernel shutdown failed", "kernel_id", id, "err", err)
		}
	}
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func (s *Server) setLastPing(ts time.Time) {
	atomic.StoreInt64(&s.lastPingUnix, ts.UnixNano())
}

func (s *Server) lastPing() time.Time {
	value := atomic.LoadInt64(&s.lastPingUnix)
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(0, value)
}

func (s *Server) keepaliveLoop(ctx context.Context, cancel context.CancelFunc, grpcServer *grpc.Server) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := s.lastPing()
			if last.IsZero() {
				continue
			}
			if time.Since(last) > time.Duration(s.cfg.KeepaliveMisses)*s.cfg.KeepaliveInterval {
				s.logger.Warn("gateway keepalive missed; shutting down", "last_ping", last.Format(time.RFC3339Nano), "interval", s.cfg.KeepaliveInterval, "misses", s.cfg.KeepaliveMisses)
				grpcServer.Stop()
				cancel()
				return
			}
		}
	}
}

func launchStatus(err error) error {
	switch core.LaunchErrorKindOf(err) {
	case core.LaunchErrorSpec:
		return status.Errorf(codes.InvalidArgument, "%v", err)
	case core.LaunchErrorUnavailable:
		return status.Errorf(codes.Unavailable, "%v", err)
	case core.LaunchErrorProcess:
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case core.LaunchErrorTimeout:
		return status.Errorf(codes.DeadlineExceeded, "%v", err)
	case core.LaunchErrorCanceled:
		return status.Errorf(codes.Canceled, "%v", err)
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}
