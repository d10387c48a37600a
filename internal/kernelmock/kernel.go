// Package kernelmock is a small stdio kernel that speaks the JSONL
// protocol. It evaluates constant expressions and a handful of builtins so
// sessions can be exercised without a real language runtime.
package kernelmock

import (
	"context"
	"errors"
	"io"
	"sync"

	"pkt.systems/kernelx/internal/wire"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// Language is the language name reported in kernel_info_reply.
const Language = "mock"

// Kernel serves protocol requests read from a stream.
type Kernel struct {
	enc    *wire.Encoder
	log    pslog.Logger
	interp *interpreter

	mu     sync.Mutex
	cancel context.CancelFunc
	count  int
}

// New returns a kernel writing replies to w.
func New(w io.Writer, logger pslog.Logger) *Kernel {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Kernel{
		enc:    wire.NewEncoder(w),
		log:    logger.With("component", "kernelmock"),
		interp: newInterpreter(),
	}
}

// Serve handles requests until r is exhausted, a shutdown_request arrives
// or ctx ends. Executions run one at a time in arrival order.
func (k *Kernel) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	queue := make(chan schema.Message, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range queue {
			k.execute(ctx, msg)
		}
	}()
	defer func() {
		cancel()
		close(queue)
		<-done
	}()

	dec := wire.NewDecoder(r)
	for {
		msg, err := dec.Next(ctx)
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				k.log.Warn("kernelmock decode failed", "err", err, "line", string(decodeErr.Line()))
				continue
			}
			if errors.Is(err, io.EOF) {
				k.log.Debug("kernelmock input closed")
				return nil
			}
			return err
		}
		switch content := msg.Content.(type) {
		case schema.KernelInfoRequest:
			k.kernelInfo(msg)
		case schema.ExecuteRequest:
			select {
			case queue <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		case schema.InterruptRequest:
			k.Interrupt()
			k.reply(msg, schema.InterruptReply{Status: "ok"})
		case schema.ShutdownRequest:
			k.log.Info("kernelmock shutdown", "restart", content.Restart)
			k.Interrupt()
			k.reply(msg, schema.ShutdownReply{Status: "ok", Restart: content.Restart})
			return nil
		default:
			k.log.Trace("kernelmock ignored", "msg_type", msg.Header.MsgType)
		}
	}
}

// Interrupt cancels the running execution, if any.
func (k *Kernel) Interrupt() {
	k.mu.Lock()
	cancel := k.cancel
	k.mu.Unlock()
	if cancel != nil {
		k.log.Debug("kernelmock interrupt")
		cancel()
	}
}

func (k *Kernel) kernelInfo(msg schema.Message) {
	k.reply(msg, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	k.reply(msg, schema.KernelInfoReply{
		Status:                "ok",
		ProtocolVersion:       schema.ProtocolVersion,
		Implementation:        "kernelx-mock",
		ImplementationVersion: "1",
		LanguageInfo:          schema.LanguageInfo{Name: Language, MimeType: "text/plain", FileExtension: ".mock"},
		Banner:                "kernelx mock kernel",
	})
	k.reply(msg, schema.Status{ExecutionState: schema.ExecutionStateIdle})
}

func (k *Kernel) execute(ctx context.Context, msg schema.Message) {
	if ctx.Err() != nil {
		return
	}
	req := msg.Content.(schema.ExecuteRequest)
	execCtx, cancel := context.WithCancel(ctx)
	k.mu.Lock()
	k.cancel = cancel
	if !req.Silent {
		k.count++
	}
	count := k.count
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.cancel = nil
		k.mu.Unlock()
		cancel()
	}()

	k.reply(msg, schema.Status{ExecutionState: schema.ExecutionStateBusy})
	k.reply(msg, schema.ExecuteInput{Code: req.Code, ExecutionCount: count})
	value, err := k.interp.run(execCtx, req.Code, &replyEmitter{kernel: k, parent: msg})
	if err != nil {
		var evalErr *evalError
		if !errors.As(err, &evalErr) {
			evalErr = &evalError{name: "RuntimeError", value: err.Error()}
		}
		traceback := []string{evalErr.Error()}
		k.reply(msg, schema.ErrorOutput{EName: evalErr.name, EValue: evalErr.value, Traceback: traceback})
		k.reply(msg, schema.ExecuteReply{
			Status:         "error",
			ExecutionCount: count,
			EName:          evalErr.name,
			EValue:         evalErr.value,
			Traceback:      traceback,
		})
		k.log.Debug("kernelmock execute failed", "err", evalErr)
	} else {
		if value != nil && !req.Silent {
			k.reply(msg, schema.ExecuteResult{ExecutionCount: count, Data: schema.MimeBundle{"text/plain": repr(value)}})
		}
		k.reply(msg, schema.ExecuteReply{Status: "ok", ExecutionCount: count})
	}
	k.reply(msg, schema.Status{ExecutionState: schema.ExecutionStateIdle})
}

func (k *Kernel) reply(parent schema.Message, content schema.Content) {
	if err := k.enc.Encode(schema.Reply(parent, content)); err != nil {
		k.log.Debug("kernelmock write failed", "msg_type", content.MsgType(), "err", err)
	}
}

type replyEmitter struct {
	kernel *Kernel
	parent schema.Message
}

func (e *replyEmitter) stream(name schema.StreamName, text string) {
	e.kernel.reply(e.parent, schema.StreamContent{Name: name, Text: text})
}

func (e *replyEmitter) display(data schema.MimeBundle, id schema.DisplayID, update bool) {
	transient := schema.Transient{DisplayID: id}
	if update {
		e.kernel.reply(e.parent, schema.UpdateDisplayData{Data: data, Transient: transient})
		return
	}
	e.kernel.reply(e.parent, schema.DisplayData{Data: data, Transient: transient})
}

func (e *replyEmitter) clear(wait bool) {
	e.kernel.reply(e.parent, schema.ClearOutput{Wait: wait})
}
