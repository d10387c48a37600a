package schema

import "errors"

var (
	// ErrInvalidMessage indicates a malformed protocol message.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMissingMsgType indicates a message header without msg_type.
	ErrMissingMsgType = errors.New("message header is missing msg_type")
	// ErrDocumentClosed indicates the document backing a session is gone.
	ErrDocumentClosed = errors.New("document is not open")
	// ErrSessionClosed indicates the session has been torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrKernelNotFound indicates no kernelspec matched the requested name.
	ErrKernelNotFound = errors.New("kernel not found")
	// ErrInvalidKernelSpec indicates an unusable kernelspec.
	ErrInvalidKernelSpec = errors.New("invalid kernelspec")
	// ErrLauncherUnavailable indicates no launcher handles the kernelspec kind.
	ErrLauncherUnavailable = errors.New("kernel launcher not configured")
	// ErrTransportClosed indicates a send on a closed transport.
	ErrTransportClosed = errors.New("transport closed")
	// ErrTransportFull indicates the outbound queue is saturated.
	ErrTransportFull = errors.New("transport queue full")
)
