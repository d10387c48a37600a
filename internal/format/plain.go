package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"pkt.systems/kernelx/schema"
)

// PlainRenderer formats execution outputs as plain text lines.
type PlainRenderer struct{}

// NewPlainRenderer returns a default plain-text renderer.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// FormatOutput converts an output entry into user-facing lines.
func (p *PlainRenderer) FormatOutput(output schema.Output) ([]string, error) {
	switch output.Kind {
	case schema.OutputStream:
		lines := make([]string, 0, len(output.Lines))
		for _, line := range output.Lines {
			lines = append(lines, StripANSI(line))
		}
		if output.Stream == schema.StreamStderr {
			return markLines(schema.StderrMarker, lines), nil
		}
		return lines, nil
	case schema.OutputData:
		return formatBundle(output.Data)
	case schema.OutputError:
		return formatError(output.Error), nil
	default:
		return nil, fmt.Errorf("unsupported output kind %q", output.Kind)
	}
}

// FormatStatus renders the status line shown while a block has no outputs.
func (p *PlainRenderer) FormatStatus(status schema.ExecutionStatus) []string {
	if status.Finished() {
		return nil
	}
	return []string{schema.StatusMarker + status.String()}
}

// StripANSI removes terminal escape sequences.
func StripANSI(text string) string {
	if !strings.Contains(text, "\x1b") {
		return text
	}
	return ansiPattern.ReplaceAllString(text, "")
}

func formatBundle(data schema.MimeBundle) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if text, ok := data["text/plain"]; ok {
		return splitLines(textValue(text)), nil
	}
	if text, ok := data["text/markdown"]; ok {
		return splitLines(textValue(text)), nil
	}
	if value, ok := data["application/json"]; ok {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(value); err != nil {
			return nil, fmt.Errorf("format application/json: %w", err)
		}
		return splitLines(buf.String()), nil
	}
	mimes := make([]string, 0, len(data))
	for mime := range data {
		mimes = append(mimes, mime)
	}
	sort.Strings(mimes)
	return []string{fmt.Sprintf("[%s]", mimes[0])}, nil
}

// textValue joins multiline mime payloads, which notebooks may store as
// string arrays.
func textValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, part := range v {
			if s, ok := part.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	case []string:
		return strings.Join(v, "")
	default:
		return fmt.Sprint(v)
	}
}

func formatError(output *schema.ErrorOutput) []string {
	if output == nil {
		return []string{schema.ErrorMarker + "error"}
	}
	lines := []string{fmt.Sprintf("%s: %s", output.EName, output.EValue)}
	for _, entry := range output.Traceback {
		lines = append(lines, splitLines(StripANSI(entry))...)
	}
	return markLines(schema.ErrorMarker, lines)
}

func splitLines(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func markLines(marker string, lines []string) []string {
	if marker == "" || len(lines) == 0 {
		return lines
	}
	marked := make([]string, 0, len(lines))
	for _, line := range lines {
		marked = append(marked, marker+line)
	}
	return marked
}
