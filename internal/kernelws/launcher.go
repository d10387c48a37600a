// Package kernelws launches kernels on a Jupyter server and talks to them
// over its websocket channels endpoint.
package kernelws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const defaultQueueDepth = 256

// Config configures the remote launcher.
type Config struct {
	// BaseURL is the server root, for example http://localhost:8888. A
	// kernelspec Endpoint overrides it.
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	QueueDepth int
	Logger     pslog.Logger
}

// Launcher creates kernels on a Jupyter server.
type Launcher struct {
	cfg Config
}

var _ core.Launcher = (*Launcher)(nil)

// NewLauncher constructs a Launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	return &Launcher{cfg: cfg}
}

type kernelModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Launch creates the kernel and connects to its channels.
func (l *Launcher) Launch(ctx context.Context, req core.LaunchRequest) (core.Transport, error) {
	base := strings.TrimRight(req.Spec.Endpoint, "/")
	if base == "" {
		base = strings.TrimRight(l.cfg.BaseURL, "/")
	}
	if base == "" {
		return nil, core.NewLaunchError(core.LaunchErrorSpec, "launch", fmt.Errorf("%w: remote kernel has no server url", schema.ErrInvalidKernelSpec))
	}
	logger := l.cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	log := logger.With("kernel", req.Spec.Name, "session", req.SessionID)

	model, err := l.createKernel(ctx, base, req.Spec.Name)
	if err != nil {
		log.Warn("kernelws create failed", "err", err)
		return nil, err
	}
	log = log.With("kernel_id", model.ID)
	log.Info("kernelws kernel created")

	wsURL, err := channelsURL(base, model.ID, req.SessionID)
	if err != nil {
		l.deleteKernel(context.Background(), base, model.ID, log)
		return nil, core.NewLaunchError(core.LaunchErrorSpec, "channels url", err)
	}
	conn, resp, err := l.cfg.Dialer.DialContext(ctx, wsURL, l.authHeader())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		log.Warn("kernelws dial failed", "err", err)
		l.deleteKernel(context.Background(), base, model.ID, log)
		return nil, core.NewLaunchError(core.LaunchErrorUnavailable, "dial channels", err)
	}
	kernel := &Kernel{
		launcher:  l,
		base:      base,
		id:        model.ID,
		conn:      conn,
		out:       make(chan []byte, l.cfg.QueueDepth),
		done:      make(chan struct{}),
		onMessage: req.OnMessage,
		onExit:    req.OnExit,
		log:       log,
	}
	kernel.start()
	return kernel, nil
}

func (l *Launcher) createKernel(ctx context.Context, base string, name schema.KernelName) (kernelModel, error) {
	body, err := json.Marshal(map[string]string{"name": string(name)})
	if err != nil {
		return kernelModel{}, core.NewLaunchError(core.LaunchErrorSpec, "create kernel", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return kernelModel{}, core.NewLaunchError(core.LaunchErrorSpec, "create kernel", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	l.authorize(httpReq.Header)
	resp, err := l.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		kind := core.LaunchErrorUnavailable
		if ctx.Err() != nil {
			kind = core.LaunchErrorKindOf(ctx.Err())
		}
		return kernelModel{}, core.NewLaunchError(kind, "create kernel", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := core.LaunchErrorUnavailable
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
			kind = core.LaunchErrorSpec
		}
		return kernelModel{}, core.NewLaunchError(kind, "create kernel", fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(detail))))
	}
	var model kernelModel
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return kernelModel{}, core.NewLaunchError(core.LaunchErrorUnknown, "create kernel", err)
	}
	if model.ID == "" {
		return kernelModel{}, core.NewLaunchError(core.LaunchErrorUnknown, "create kernel", fmt.Errorf("server returned no kernel id"))
	}
	return model, nil
}

func (l *Launcher) deleteKernel(ctx context.Context, base, id string, log pslog.Logger) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, base+"/api/kernels/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	l.authorize(httpReq.Header)
	resp, err := l.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		log.Debug("kernelws delete failed", "err", err)
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		err := fmt.Errorf("delete kernel: server returned %s", resp.Status)
		log.Debug("kernelws delete failed", "err", err)
		return err
	}
	return nil
}

func (l *Launcher) authHeader() http.Header {
	header := http.Header{}
	l.authorize(header)
	return header
}

func (l *Launcher) authorize(header http.Header) {
	if l.cfg.Token != "" {
		header.Set("Authorization", "token "+l.cfg.Token)
	}
}

func channelsURL(base, kernelID string, sessionID schema.SessionID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u = u.JoinPath("api", "kernels", kernelID, "channels")
	query := u.Query()
	query.Set("session_id", string(sessionID))
	u.RawQuery = query.Encode()
	return u.String(), nil
}
