package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
	"weak"

	"pkt.systems/kernelx/internal/format"
	"pkt.systems/kernelx/internal/logx"
	"pkt.systems/kernelx/schema"
	"pkt.systems/pslog"
)

// Session binds one document to one kernel. It owns the kernel handle and
// the execution blocks keyed by the msg_id of the request that created them.
type Session struct {
	id        schema.SessionID
	cfg       schema.SessionConfig
	spec      schema.KernelSpecification
	doc       Document
	launcher  Launcher
	telemetry Telemetry
	renderer  Renderer
	sink      EventSink
	log       pslog.Logger
	after     func(time.Duration) <-chan time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	// self is handed to goroutines and document callbacks so they never keep
	// the session alive.
	self weak.Pointer[Session]

	mu          sync.Mutex
	kernel      Kernel
	blocks      map[schema.MessageID]*executionBlock
	seq         uint64
	closed      bool
	unsubscribe func()
}

// ExecuteRequest asks a session to run a code region.
type ExecuteRequest struct {
	Code  string
	Range AnchorRange
	// NextCell is where the cursor moves when MoveDown is set. When nil the
	// cursor moves to the row below the code.
	NextCell *Anchor
	MoveDown bool
}

type pendingSend struct {
	transport Transport
	msg       schema.Message
}

// effects collects side effects produced under the session lock so they
// can run after it is released.
type effects struct {
	reports []string
	events  []schema.SessionEvent
	removed []BlockID
	sends   []pendingSend
}

// NewSession constructs a session and starts its kernel.
func NewSession(ctx context.Context, cfg schema.SessionConfig, spec schema.KernelSpecification, deps SessionDeps) (*Session, error) {
	if ctx == nil {
		return nil, errors.New("missing context")
	}
	normalized, err := schema.NormalizeSessionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if deps.Document == nil || deps.Document.Closed() {
		return nil, fmt.Errorf("new session: %w", schema.ErrDocumentClosed)
	}
	if deps.Renderer == nil {
		deps.Renderer = format.NewPlainRenderer()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = nopTelemetry{}
	}
	if deps.After == nil {
		deps.After = time.After
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	id := newSessionID()
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        id,
		cfg:       normalized,
		spec:      spec,
		doc:       deps.Document,
		launcher:  deps.Launcher,
		telemetry: deps.Telemetry,
		renderer:  deps.Renderer,
		sink:      deps.EventSink,
		log:       logx.WithKernel(logx.WithSession(logger, id), spec.Name),
		after:     deps.After,
		ctx:       sessionCtx,
		cancel:    cancel,
		blocks:    make(map[schema.MessageID]*executionBlock),
	}
	s.self = weak.Make(s)
	wp := s.self
	s.unsubscribe = s.doc.Subscribe(func(EditEvent) {
		if sess := wp.Value(); sess != nil {
			sess.onEdit()
		}
	})
	s.log.Info("session created", "language", spec.Language())

	s.mu.Lock()
	fx := &effects{}
	s.startKernelLocked(fx)
	s.mu.Unlock()
	s.flush(fx)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID {
	return s.id
}

// Spec returns the kernel specification the session launches.
func (s *Session) Spec() schema.KernelSpecification {
	return s.spec
}

// Kernel returns the current kernel variant.
func (s *Session) Kernel() Kernel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kernel
}

// KernelStatus returns the status of the current kernel variant.
func (s *Session) KernelStatus() schema.KernelStatus {
	return s.Kernel().Status()
}

// StatusText returns the kernel label shown to users.
func (s *Session) StatusText() string {
	return statusText(s.Kernel(), s.spec)
}

// Blocks returns snapshots of the live execution blocks in creation order.
func (s *Session) Blocks() []schema.BlockSnapshot {
	s.mu.Lock()
	blocks := s.sortedBlocksLocked()
	s.mu.Unlock()
	snapshots := make([]schema.BlockSnapshot, 0, len(blocks))
	for _, block := range blocks {
		snapshots = append(snapshots, block.Snapshot())
	}
	return snapshots
}

// Execute runs code from the given region. Empty code is a no-op.
func (s *Session) Execute(ctx context.Context, req ExecuteRequest) error {
	if ctx == nil {
		return errors.New("missing context")
	}
	if req.Code == "" {
		return nil
	}
	if s.doc.Closed() {
		s.log.Warn("session execute rejected", "err", schema.ErrDocumentClosed)
		return schema.ErrDocumentClosed
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.ErrSessionClosed
	}
	fx := &effects{}
	snapshot := s.doc.Snapshot()
	var overlapping []schema.MessageID
	for _, block := range s.sortedBlocksLocked() {
		if block.codeRange.Overlaps(req.Range, snapshot) {
			overlapping = append(overlapping, block.msgID)
		}
	}
	s.evictLocked(fx, overlapping)
	status := executionStatusFor(s.kernel)
	s.mu.Unlock()
	s.flush(fx)

	message := schema.NewMessage(schema.NewExecuteRequest(req.Code), s.id)
	msgID := message.Header.MsgID
	view := newExecutionView(status, s.renderer, s.cfg.OutputMaxLines)
	wp := s.self
	view.onClose = func() {
		if sess := wp.Value(); sess != nil {
			sess.closeBlock(msgID)
		}
	}
	block, err := newExecutionBlock(s.doc, msgID, req.Range, view)
	if err != nil {
		s.log.Warn("session execute failed", "err", err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.doc.RemoveBlocks([]BlockID{block.blockID})
		return schema.ErrSessionClosed
	}
	fx = &effects{}
	s.seq++
	block.seq = s.seq
	s.blocks[msgID] = block
	if current := executionStatusFor(s.kernel); current != status {
		view.SetStatus(current)
	}
	log := logx.WithMessage(s.log, msgID)
	switch kernel := s.kernel.(type) {
	case RunningKernel:
		log.Debug("session execute dispatch", "mode", "send")
		fx.sends = append(fx.sends, pendingSend{transport: kernel.Transport, msg: message})
	case StartingKernel:
		log.Debug("session execute dispatch", "mode", "queued")
		kernel.task.Then(func(error) {
			if sess := wp.Value(); sess != nil {
				sess.sendQueued(message)
			}
		})
	default:
		log.Debug("session execute dispatch", "mode", "dropped", "kernel", kernel.Status())
	}
	fx.events = append(fx.events, s.blockEventLocked(block))
	s.mu.Unlock()
	s.flush(fx)

	if req.MoveDown {
		target := block.invalidation
		if req.NextCell != nil {
			target = *req.NextCell
		}
		s.doc.MoveCursor(target, Autoscroll{ContextLines: s.cfg.ScrollContext})
	}
	return nil
}

// sendQueued delivers an execute request that waited for the kernel to
// start. It is dropped when the kernel did not come up or the block is gone.
func (s *Session) sendQueued(msg schema.Message) {
	log := logx.WithMessage(s.log, msg.Header.MsgID)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, ok := s.blocks[msg.Header.MsgID]; !ok {
		s.mu.Unlock()
		log.Debug("session queued execute dropped", "reason", "block removed")
		return
	}
	running, ok := s.kernel.(RunningKernel)
	s.mu.Unlock()
	if !ok {
		log.Debug("session queued execute dropped", "reason", "kernel not running")
		return
	}
	s.send(running.Transport, msg)
}

// ClearOutputs removes every execution block.
func (s *Session) ClearOutputs() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fx := &effects{}
	s.clearBlocksLocked(fx)
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) closeBlock(msgID schema.MessageID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fx := &effects{}
	s.evictLocked(fx, []schema.MessageID{msgID})
	s.mu.Unlock()
	s.flush(fx)
}

// onEdit drops every block whose invalidation anchor no longer resolves.
func (s *Session) onEdit() {
	s.mu.Lock()
	if s.closed || len(s.blocks) == 0 {
		s.mu.Unlock()
		return
	}
	snapshot := s.doc.Snapshot()
	var invalid []schema.MessageID
	for _, block := range s.sortedBlocksLocked() {
		if !snapshot.IsValid(block.invalidation) {
			invalid = append(invalid, block.msgID)
		}
	}
	fx := &effects{}
	s.evictLocked(fx, invalid)
	s.mu.Unlock()
	s.flush(fx)
}

func (s *Session) clearBlocksLocked(fx *effects) {
	ids := make([]schema.MessageID, 0, len(s.blocks))
	for _, block := range s.sortedBlocksLocked() {
		ids = append(ids, block.msgID)
	}
	s.evictLocked(fx, ids)
}

// evictLocked is the single removal path for blocks.
func (s *Session) evictLocked(fx *effects, ids []schema.MessageID) {
	var removed []schema.MessageID
	for _, id := range ids {
		block, ok := s.blocks[id]
		if !ok {
			continue
		}
		delete(s.blocks, id)
		fx.removed = append(fx.removed, block.blockID)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return
	}
	s.log.Debug("session blocks removed", "count", len(removed))
	fx.events = append(fx.events, schema.SessionEvent{
		Type:       schema.SessionEventRemoved,
		SessionID:  s.id,
		Kernel:     s.kernel.Status(),
		RemovedIDs: removed,
	})
}

func (s *Session) sortedBlocksLocked() []*executionBlock {
	blocks := make([]*executionBlock, 0, len(s.blocks))
	for _, block := range s.blocks {
		blocks = append(blocks, block)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].seq < blocks[j].seq })
	return blocks
}

func (s *Session) blockEventLocked(block *executionBlock) schema.SessionEvent {
	snapshot := block.Snapshot()
	return schema.SessionEvent{
		Type:      schema.SessionEventBlock,
		SessionID: s.id,
		Kernel:    s.kernel.Status(),
		Block:     &snapshot,
	}
}

// setKernelLocked replaces the kernel variant and records the transition.
func (s *Session) setKernelLocked(fx *effects, kernel Kernel) {
	s.kernel = kernel
	status := kernel.Status()
	fx.reports = append(fx.reports, status.String())
	fx.events = append(fx.events, schema.SessionEvent{
		Type:       schema.SessionEventKernel,
		SessionID:  s.id,
		Kernel:     status,
		StatusText: statusText(kernel, s.spec),
	})
	if _, ok := kernel.(ShutdownKernel); ok {
		fx.events = append(fx.events, schema.SessionEvent{
			Type:      schema.SessionEventShutdown,
			SessionID: s.id,
			Kernel:    status,
		})
	}
}

func (s *Session) workingDirLocked() string {
	if dir, ok := s.doc.WorkingDirectory(); ok && dir != "" {
		return dir
	}
	return os.TempDir()
}

func (s *Session) send(transport Transport, msg schema.Message) {
	if transport == nil {
		return
	}
	if err := transport.Send(msg); err != nil {
		logx.WithMessage(s.log, msg.Header.MsgID).Debug("session send failed", "msg_type", msg.Header.MsgType, "err", err)
	}
}

func (s *Session) flush(fx *effects) {
	if fx == nil {
		return
	}
	if len(fx.removed) > 0 {
		s.doc.RemoveBlocks(fx.removed)
	}
	if len(fx.reports) > 0 {
		language := s.spec.Language()
		for _, status := range fx.reports {
			s.telemetry.ReportReplEvent(language, status, s.id)
		}
	}
	for _, pending := range fx.sends {
		s.send(pending.transport, pending.msg)
	}
	if s.sink != nil {
		for _, event := range fx.events {
			s.sink.OnSessionEvent(event)
		}
	}
}
