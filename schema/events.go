package schema

// SessionEventType identifies a session event payload.
type SessionEventType string

const (
	// SessionEventKernel reports a kernel status change.
	SessionEventKernel SessionEventType = "kernel"
	// SessionEventBlock reports a change in a block's outputs or status.
	SessionEventBlock SessionEventType = "block"
	// SessionEventRemoved reports blocks that were evicted.
	SessionEventRemoved SessionEventType = "removed"
	// SessionEventShutdown reports that the session reached shutdown.
	SessionEventShutdown SessionEventType = "shutdown"
)

// SessionEvent is emitted by a session to its event sink.
type SessionEvent struct {
	Type       SessionEventType
	SessionID  SessionID
	Kernel     KernelStatus
	StatusText string
	Block      *BlockSnapshot
	RemovedIDs []MessageID
}

// BlockSnapshot describes one execution block.
type BlockSnapshot struct {
	MsgID   MessageID
	BlockID uint64
	Status  ExecutionStatus
	Lines   []string
	Outputs []Output
}
