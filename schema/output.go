package schema

// StderrMarker prefixes rendered lines that originated from stderr.
const StderrMarker = "\x1f"

// ErrorMarker prefixes rendered lines of a kernel error output.
const ErrorMarker = "\x1e"

// StatusMarker prefixes the status line of an execution block.
const StatusMarker = "\x1d"

// OutputKind identifies an output entry in an execution block.
type OutputKind string

const (
	// OutputStream is accumulated stdout or stderr text.
	OutputStream OutputKind = "stream"
	// OutputData is a rich mime bundle (execute_result, display_data or a pager payload).
	OutputData OutputKind = "data"
	// OutputError is a kernel exception.
	OutputError OutputKind = "error"
)

// Output is one rendered entry of an execution block.
type Output struct {
	Kind OutputKind
	// Stream and Lines are set for stream outputs.
	Stream StreamName
	Lines  []string
	// Data and DisplayID are set for data outputs.
	Data           MimeBundle
	DisplayID      DisplayID
	ExecutionCount int
	// Error is set for error outputs.
	Error *ErrorOutput
}
