package kernelws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

const writeTimeout = 10 * time.Second

// Kernel is the transport of one remote kernel.
type Kernel struct {
	launcher  *Launcher
	base      string
	id        string
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	once      sync.Once
	closed    atomic.Bool
	onMessage func(schema.Message)
	onExit    func(error)
	log       pslog.Logger
}

// ID returns the server-side kernel id.
func (k *Kernel) ID() string {
	return k.id
}

func (k *Kernel) start() {
	go k.readPump()
	go k.writePump()
}

func (k *Kernel) readPump() {
	defer k.stop()
	for {
		_, data, err := k.conn.ReadMessage()
		if err != nil {
			if k.closed.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				k.log.Info("kernelws closed by server")
				err = nil
			} else {
				k.log.Warn("kernelws read failed", "err", err)
			}
			k.stop()
			if k.onExit != nil {
				k.onExit(err)
			}
			return
		}
		var msg schema.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			k.log.Warn("kernelws decode failed", "err", err)
			continue
		}
		if k.onMessage != nil {
			k.onMessage(msg)
		}
	}
}

func (k *Kernel) writePump() {
	defer k.stop()
	for {
		select {
		case data := <-k.out:
			_ = k.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := k.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				k.log.Warn("kernelws write failed", "err", err)
				return
			}
		case <-k.done:
			return
		}
	}
}

func (k *Kernel) stop() {
	k.once.Do(func() {
		close(k.done)
		_ = k.conn.Close()
	})
}

// Send queues msg without blocking.
func (k *Kernel) Send(msg schema.Message) error {
	if k.closed.Load() {
		return schema.ErrTransportClosed
	}
	select {
	case <-k.done:
		return schema.ErrTransportClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case k.out <- data:
		return nil
	default:
		return schema.ErrTransportFull
	}
}

// ForceShutdown deletes the kernel on the server and closes the socket.
func (k *Kernel) ForceShutdown(ctx context.Context) error {
	if !k.closed.CompareAndSwap(false, true) {
		<-k.done
		return nil
	}
	k.log.Debug("kernelws kill")
	err := k.launcher.deleteKernel(ctx, k.base, k.id, k.log)
	_ = k.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "kernel shutdown"),
		time.Now().Add(time.Second),
	)
	k.stop()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err()
	}
	return err
}
