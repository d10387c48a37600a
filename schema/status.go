package schema

// KernelStatus is the user-facing status of a kernel handle.
type KernelStatus string

const (
	KernelStatusStarting     KernelStatus = "starting"
	KernelStatusIdle         KernelStatus = "idle"
	KernelStatusBusy         KernelStatus = "busy"
	KernelStatusError        KernelStatus = "error"
	KernelStatusShuttingDown KernelStatus = "shutting down"
	KernelStatusShutdown     KernelStatus = "shutdown"
	KernelStatusRestarting   KernelStatus = "restarting"
)

// String returns the status label used in telemetry.
func (s KernelStatus) String() string {
	return string(s)
}

// KernelStatusFromExecutionState maps a kernel-reported state onto a status.
func KernelStatusFromExecutionState(state ExecutionState) KernelStatus {
	switch state {
	case ExecutionStateBusy:
		return KernelStatusBusy
	case ExecutionStateStarting:
		return KernelStatusStarting
	default:
		return KernelStatusIdle
	}
}

// ExecutionStatusKind enumerates per-block output states.
type ExecutionStatusKind int

const (
	ExecutionUnknown ExecutionStatusKind = iota
	ExecutionQueued
	ExecutionConnectingToKernel
	ExecutionExecuting
	ExecutionFinished
	ExecutionKernelErrored
	ExecutionRestarting
	ExecutionShuttingDown
	ExecutionShutdown
)

// ExecutionStatus is the status of one execution block. Message is only set
// for ExecutionKernelErrored.
type ExecutionStatus struct {
	Kind    ExecutionStatusKind
	Message string
}

// Errored returns an errored status carrying message.
func Errored(message string) ExecutionStatus {
	return ExecutionStatus{Kind: ExecutionKernelErrored, Message: message}
}

// StatusOf returns a status without a message.
func StatusOf(kind ExecutionStatusKind) ExecutionStatus {
	return ExecutionStatus{Kind: kind}
}

// Finished reports whether the block has completed.
func (s ExecutionStatus) Finished() bool {
	return s.Kind == ExecutionFinished
}

// Terminal reports whether no further output is expected for the block.
func (s ExecutionStatus) Terminal() bool {
	switch s.Kind {
	case ExecutionFinished, ExecutionKernelErrored, ExecutionShutdown:
		return true
	default:
		return false
	}
}

func (s ExecutionStatus) String() string {
	switch s.Kind {
	case ExecutionQueued:
		return "Queued"
	case ExecutionConnectingToKernel:
		return "Connecting to kernel..."
	case ExecutionExecuting:
		return "Executing..."
	case ExecutionFinished:
		return "Finished"
	case ExecutionKernelErrored:
		return "Error: " + s.Message
	case ExecutionRestarting:
		return "Restarting..."
	case ExecutionShuttingDown:
		return "Shutting down..."
	case ExecutionShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
