package core

import (
	"fmt"
	"sync"

	"pkt.systems/kernelx/schema"
)

// executionView collects the outputs of one execution and renders them
// into the block's visual region.
type executionView struct {
	mu       sync.Mutex
	status   schema.ExecutionStatus
	outputs  []*viewOutput
	clearing bool
	// failure holds the error reported by an error output. Idle cannot
	// finish a view that has one.
	failure  string
	renderer Renderer
	maxLines int
	onClose  func()
}

type viewOutput struct {
	kind      schema.OutputKind
	stream    schema.StreamName
	text      *buffer
	data      schema.MimeBundle
	displayID schema.DisplayID
	count     int
	err       *schema.ErrorOutput
}

func newExecutionView(status schema.ExecutionStatus, renderer Renderer, maxLines int) *executionView {
	return &executionView{status: status, renderer: renderer, maxLines: maxLines}
}

// Push applies an inbound message correlated to this execution and reports
// whether the view changed.
func (v *executionView) Push(msg schema.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch content := msg.Content.(type) {
	case schema.ExecuteResult:
		v.appendOutput(&viewOutput{kind: schema.OutputData, data: content.Data, displayID: content.Transient.DisplayID, count: content.ExecutionCount})
	case schema.DisplayData:
		v.appendOutput(&viewOutput{kind: schema.OutputData, data: content.Data, displayID: content.Transient.DisplayID})
	case schema.StreamContent:
		v.appendStream(content)
	case schema.ErrorOutput:
		errOut := content
		v.appendOutput(&viewOutput{kind: schema.OutputError, err: &errOut})
		if v.failure == "" {
			v.failure = replyErrorMessage(schema.ExecuteReply{EName: content.EName, EValue: content.EValue})
		}
	case schema.ExecuteReply:
		for _, payload := range content.Payload {
			if payload.Source != schema.PayloadSourcePage || len(payload.Data) == 0 {
				continue
			}
			v.outputs = append(v.outputs, &viewOutput{kind: schema.OutputData, data: payload.Data})
		}
		// The reply travels on another channel than idle and may arrive
		// after it.
		if content.Status == "error" && v.status.Kind != schema.ExecutionShutdown {
			v.status = schema.Errored(replyErrorMessage(content))
		}
	case schema.ClearOutput:
		if !content.Wait {
			v.outputs = nil
			v.clearing = false
			return true
		}
		v.clearing = true
		return false
	case schema.Status:
		switch content.ExecutionState {
		case schema.ExecutionStateBusy:
			v.status = schema.StatusOf(schema.ExecutionExecuting)
		case schema.ExecutionStateIdle:
			switch {
			case v.status.Kind == schema.ExecutionKernelErrored:
			case v.failure != "":
				v.status = schema.Errored(v.failure)
			default:
				v.status = schema.StatusOf(schema.ExecutionFinished)
			}
		default:
			return false
		}
	default:
		return false
	}
	return true
}

func replyErrorMessage(reply schema.ExecuteReply) string {
	if reply.EName == "" {
		return "execution failed"
	}
	if reply.EValue == "" {
		return reply.EName
	}
	return fmt.Sprintf("%s: %s", reply.EName, reply.EValue)
}

func (v *executionView) appendOutput(out *viewOutput) {
	if v.clearing {
		v.outputs = nil
		v.clearing = false
	}
	v.outputs = append(v.outputs, out)
}

func (v *executionView) appendStream(content schema.StreamContent) {
	name := content.Name
	if name == "" {
		name = schema.StreamStdout
	}
	if !v.clearing && len(v.outputs) > 0 {
		last := v.outputs[len(v.outputs)-1]
		if last.kind == schema.OutputStream && last.stream == name {
			last.text.Write(content.Text)
			return
		}
	}
	text := newBufferWithMaxLines(v.maxLines)
	text.Write(content.Text)
	v.appendOutput(&viewOutput{kind: schema.OutputStream, stream: name, text: text})
}

// UpdateDisplay replaces the data of outputs showing the display id and
// reports whether any matched.
func (v *executionView) UpdateDisplay(update schema.UpdateDisplayData) bool {
	if update.Transient.DisplayID == "" {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	updated := false
	for _, out := range v.outputs {
		if out.kind == schema.OutputData && out.displayID == update.Transient.DisplayID {
			out.data = update.Data
			updated = true
		}
	}
	return updated
}

// SetStatus overrides the block status.
func (v *executionView) SetStatus(status schema.ExecutionStatus) {
	v.mu.Lock()
	v.status = status
	v.mu.Unlock()
}

// MarkErrored sets an errored status unless the execution already finished.
func (v *executionView) MarkErrored(message string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status.Finished() {
		return false
	}
	v.status = schema.Errored(message)
	return true
}

func (v *executionView) Status() schema.ExecutionStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Outputs returns copies of the collected outputs.
func (v *executionView) Outputs() []schema.Output {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.exportLocked()
}

func (v *executionView) exportLocked() []schema.Output {
	outputs := make([]schema.Output, 0, len(v.outputs))
	for _, out := range v.outputs {
		entry := schema.Output{
			Kind:           out.kind,
			Stream:         out.stream,
			Data:           out.data,
			DisplayID:      out.displayID,
			ExecutionCount: out.count,
			Error:          out.err,
		}
		if out.text != nil {
			entry.Lines = out.text.Lines()
		}
		outputs = append(outputs, entry)
	}
	return outputs
}

// Lines renders the view. A view without outputs shows its status line.
func (v *executionView) Lines() []string {
	v.mu.Lock()
	outputs := v.exportLocked()
	status := v.status
	renderer := v.renderer
	maxLines := v.maxLines
	v.mu.Unlock()

	if renderer == nil {
		return nil
	}
	if len(outputs) == 0 {
		return renderer.FormatStatus(status)
	}
	var lines []string
	for _, out := range outputs {
		rendered, err := renderer.FormatOutput(out)
		if err != nil {
			lines = append(lines, fmt.Sprintf("render error: %v", err))
			continue
		}
		lines = append(lines, rendered...)
	}
	if status.Kind == schema.ExecutionKernelErrored {
		lines = append(lines, renderer.FormatStatus(status)...)
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

// Close is invoked by the document when the close control is activated.
func (v *executionView) Close() {
	v.mu.Lock()
	onClose := v.onClose
	v.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}
