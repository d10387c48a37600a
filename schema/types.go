package schema

// SessionID identifies a kernel session.
type SessionID string

// MessageID identifies a protocol message (header.msg_id).
type MessageID string

// KernelID identifies a kernel instance on a remote server or gateway.
type KernelID string

// KernelName is the kernelspec name (e.g. "python3").
type KernelName string

// DisplayID identifies an updatable display output.
type DisplayID string

// MimeBundle maps a MIME type to its payload.
type MimeBundle map[string]any

// ExecutionState is the kernel-reported execution state.
type ExecutionState string

const (
	// ExecutionStateStarting is reported once while the kernel boots.
	ExecutionStateStarting ExecutionState = "starting"
	// ExecutionStateIdle means the kernel is waiting for requests.
	ExecutionStateIdle ExecutionState = "idle"
	// ExecutionStateBusy means the kernel is executing a request.
	ExecutionStateBusy ExecutionState = "busy"
)

// Channel names the Jupyter socket a message travels on.
type Channel string

const (
	// ChannelShell carries execute and kernel_info requests.
	ChannelShell Channel = "shell"
	// ChannelIOPub carries broadcast output and status.
	ChannelIOPub Channel = "iopub"
	// ChannelControl carries interrupt and shutdown requests.
	ChannelControl Channel = "control"
	// ChannelStdin carries input requests.
	ChannelStdin Channel = "stdin"
)
