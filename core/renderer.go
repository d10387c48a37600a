package core

import "pkt.systems/kernelx/schema"

// Renderer formats execution outputs into display lines for a surface.
type Renderer interface {
	FormatOutput(output schema.Output) ([]string, error)
	FormatStatus(status schema.ExecutionStatus) []string
}
