package core

import (
	"pkt.systems/kernelx/internal/logx"
	"pkt.systems/kernelx/schema"
)

// Route delivers an inbound kernel message. Messages without a parent header
// are dropped. Status and kernel_info_reply update the running kernel and
// are then forwarded like any other reply; update_display_data goes to every
// block and stops there.
func (s *Session) Route(msg schema.Message) {
	parentID, ok := msg.ParentID()
	log := logx.WithMessage(s.log, msg.Header.MsgID)
	if !ok {
		log.Trace("session route dropped", "msg_type", msg.Header.MsgType, "reason", "no parent")
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	fx := &effects{}
	switch content := msg.Content.(type) {
	case schema.Status:
		if running, ok := s.kernel.(RunningKernel); ok {
			running.ExecutionState = content.ExecutionState
			s.setKernelLocked(fx, running)
		}
	case schema.KernelInfoReply:
		if running, ok := s.kernel.(RunningKernel); ok {
			info := content
			running.Info = &info
			s.kernel = running
			fx.events = append(fx.events, schema.SessionEvent{
				Type:       schema.SessionEventKernel,
				SessionID:  s.id,
				Kernel:     running.Status(),
				StatusText: statusText(running, s.spec),
			})
			log.Debug("session kernel info", "language", info.LanguageInfo.Name, "implementation", info.Implementation)
		}
	case schema.UpdateDisplayData:
		updated := 0
		for _, block := range s.sortedBlocksLocked() {
			if block.view.UpdateDisplay(content) {
				updated++
				fx.events = append(fx.events, s.blockEventLocked(block))
			}
		}
		s.mu.Unlock()
		s.flush(fx)
		log.Trace("session route display update", "display_id", content.Transient.DisplayID, "blocks", updated)
		return
	}
	block := s.blocks[parentID]
	if block == nil {
		s.mu.Unlock()
		s.flush(fx)
		log.Trace("session route dropped", "msg_type", msg.Header.MsgType, "parent", parentID, "reason", "unknown parent")
		return
	}
	if block.view.Push(msg) {
		fx.events = append(fx.events, s.blockEventLocked(block))
	}
	s.mu.Unlock()
	s.flush(fx)
	log.Trace("session route delivered", "msg_type", msg.Header.MsgType, "parent", parentID)
}
