package kernelgrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const defaultQueueDepth = 256

// Client talks to a gateway server over a unix socket.
type Client struct {
	conn       *grpc.ClientConn
	queueDepth int
	logger     pslog.Logger
}

// Dial connects to the gateway socket. The connection is established lazily
// on first use.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("gateway socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	conn, err := grpc.NewClient(
		"passthrough:///"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, queueDepth: defaultQueueDepth}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Ping keeps the gateway alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Invoke(ctx, methodPing, &emptypb.Empty{}, &emptypb.Empty{})
}

// Kill asks the gateway to force-shutdown a kernel.
func (c *Client) Kill(ctx context.Context, id schema.KernelID) error {
	return c.conn.Invoke(ctx, methodKill, wrapperspb.String(string(id)), &emptypb.Empty{})
}

// Launch opens a channel for req.Spec on the gateway. The kernel lives until
// the returned transport is shut down, independent of ctx.
func (c *Client) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	return c.open(ctx, req, false)
}

func (c *Client) open(ctx context.Context, req core.LaunchRequest, ownsConn bool) (*RemoteKernel, error) {
	logger := c.logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	log := logger.With("kernel", req.Spec.Name, "session", req.SessionID)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cs, err := c.conn.NewStream(streamCtx, &serviceDesc.Streams[0], methodChannel)
	if err != nil {
		cancel()
		logGRPCError(log, "gateway channel open failed", err)
		return nil, wrapLaunchError("open channel", err)
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}
	frame, err := hello{KernelName: req.Spec.Name, WorkingDir: req.WorkingDir, SessionID: req.SessionID}.toStruct()
	if err == nil {
		err = stream.Send(frame)
	}
	if err != nil {
		cancel()
		logGRPCError(log, "gateway hello failed", err)
		return nil, wrapLaunchError("hello", err)
	}

	type recvResult struct {
		frame *structpb.Struct
		err   error
	}
	ready := make(chan recvResult, 1)
	go func() {
		frame, err := stream.Recv()
		ready <- recvResult{frame: frame, err: err}
	}()
	var res recvResult
	select {
	case <-ctx.Done():
		cancel()
		return nil, wrapLaunchError("launch", ctx.Err())
	case res = <-ready:
	}
	if res.err != nil {
		cancel()
		logGRPCError(log, "gateway launch failed", res.err)
		return nil, wrapLaunchError("launch", res.err)
	}
	id := schema.KernelID(res.frame.GetFields()[helloKernelID].GetStringValue())
	if id == "" {
		cancel()
		return nil, core.NewLaunchError(core.LaunchErrorUnknown, "launch", errors.New("gateway reply has no kernel_id"))
	}
	kernel := &RemoteKernel{
		client:    c,
		id:        id,
		stream:    stream,
		cancel:    cancel,
		out:       make(chan *structpb.Struct, c.queueDepth),
		done:      make(chan struct{}),
		recvDone:  make(chan struct{}),
		onMessage: req.OnMessage,
		onExit:    req.OnExit,
		ownsConn:  ownsConn,
		log:       log.With("kernel_id", id),
	}
	go kernel.recvLoop()
	go kernel.sendLoop()
	kernel.log.Info("gateway kernel attached")
	return kernel, nil
}

// RemoteKernel is a kernel owned by a gateway server.
type RemoteKernel struct {
	client    *Client
	id        schema.KernelID
	stream    *grpc.GenericClientStream[structpb.Struct, structpb.Struct]
	cancel    context.CancelFunc
	out       chan *structpb.Struct
	done      chan struct{}
	recvDone  chan struct{}
	stopOnce  sync.Once
	closing   atomic.Bool
	onMessage func(schema.Message)
	onExit    func(error)
	ownsConn  bool
	log       pslog.Logger
}

var _ core.Transport = (*RemoteKernel)(nil)

// ID returns the gateway-assigned kernel id.
func (k *RemoteKernel) ID() schema.KernelID {
	return k.id
}

// Send queues msg for the gateway.
func (k *RemoteKernel) Send(msg schema.Message) error {
	select {
	case <-k.done:
		return schema.ErrTransportClosed
	default:
	}
	frame, err := toStruct(msg)
	if err != nil {
		return err
	}
	select {
	case k.out <- frame:
		return nil
	case <-k.done:
		return schema.ErrTransportClosed
	default:
		return schema.ErrTransportFull
	}
}

// ForceShutdown kills the kernel on the gateway and closes the channel.
func (k *RemoteKernel) ForceShutdown(ctx context.Context) error {
	k.closing.Store(true)
	err := k.client.Kill(ctx, k.id)
	if status.Code(err) == codes.NotFound {
		err = nil
	}
	k.stop()
	select {
	case <-k.recvDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	if k.ownsConn {
		_ = k.client.Close()
	}
	if err != nil {
		logGRPCError(k.log, "gateway kill failed", err)
		return err
	}
	k.log.Info("gateway kernel shut down")
	return nil
}

// Done is closed when the channel to the gateway has ended.
func (k *RemoteKernel) Done() <-chan struct{} {
	return k.recvDone
}

func (k *RemoteKernel) stop() {
	k.stopOnce.Do(func() {
		close(k.done)
		k.cancel()
	})
}

func (k *RemoteKernel) recvLoop() {
	defer close(k.recvDone)
	for {
		frame, err := k.stream.Recv()
		if err != nil {
			select {
			case <-k.done:
			default:
				if errors.Is(err, io.EOF) {
					err = nil
				} else {
					logGRPCError(k.log, "gateway channel receive failed", err)
				}
				k.stop()
				if k.onExit != nil && !k.closing.Load() {
					k.onExit(err)
				}
			}
			return
		}
		msg, err := fromStruct(frame)
		if err != nil {
			k.log.Warn("gateway decode failed", "err", err)
			continue
		}
		if k.onMessage != nil {
			k.onMessage(msg)
		}
	}
}

func (k *RemoteKernel) sendLoop() {
	for {
		select {
		case <-k.done:
			return
		case frame := <-k.out:
			if err := k.stream.Send(frame); err != nil {
				logGRPCError(k.log, "gateway channel send failed", err)
				k.stop()
				return
			}
		}
	}
}

// LauncherConfig configures Launcher.
type LauncherConfig struct {
	// SocketPath is used when a kernelspec carries no Endpoint.
	SocketPath string
	QueueDepth int
	Logger     pslog.Logger
}

// Launcher opens a dedicated gateway connection per kernel.
type Launcher struct {
	cfg LauncherConfig
}

var _ core.Launcher = (*Launcher)(nil)

// NewLauncher constructs a Launcher.
func NewLauncher(cfg LauncherConfig) *Launcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Launcher{cfg: cfg}
}

// Launch dials the gateway named by the kernelspec and opens a channel.
func (l *Launcher) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	socket := req.Spec.Endpoint
	if socket == "" {
		socket = l.cfg.SocketPath
	}
	if socket == "" {
		return nil, core.NewLaunchError(core.LaunchErrorSpec, "launch", fmt.Errorf("%w: gateway kernel has no socket", schema.ErrInvalidKernelSpec))
	}
	client, err := Dial(ctx, socket)
	if err != nil {
		return nil, wrapLaunchError("dial", err)
	}
	client.queueDepth = l.cfg.QueueDepth
	client.logger = l.cfg.Logger
	kernel, err := client.open(ctx, req, true)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return kernel, nil
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}

func wrapLaunchError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *core.LaunchError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return core.NewLaunchError(core.LaunchErrorCanceled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewLaunchError(core.LaunchErrorTimeout, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.InvalidArgument, codes.NotFound:
			return core.NewLaunchError(core.LaunchErrorSpec, op, err)
		case codes.Unavailable:
			return core.NewLaunchError(core.LaunchErrorUnavailable, op, err)
		case codes.FailedPrecondition:
			return core.NewLaunchError(core.LaunchErrorProcess, op, err)
		case codes.DeadlineExceeded:
			return core.NewLaunchError(core.LaunchErrorTimeout, op, err)
		case codes.Canceled:
			return core.NewLaunchError(core.LaunchErrorCanceled, op, err)
		}
	}
	return core.NewLaunchError(core.LaunchErrorUnknown, op, err)
}
