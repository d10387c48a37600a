package document

import (
	"strings"

	"pkt.systems/kernelx/core"
)

// CellMarker starts a new cell when it begins a line.
const CellMarker = "# %%"

// Cell is one executable region of the document.
type Cell struct {
	Code     string
	Range    core.AnchorRange
	StartRow int
	EndRow   int
}

// Cells splits the document into marker-delimited cells. Text before the
// first marker is a cell of its own; blank leading and trailing rows are not
// part of a cell and cells without code are skipped.
func (d *Document) Cells() []Cell {
	text := d.Text()
	lines := strings.Split(text, "\n")
	type span struct{ start, end int }
	var spans []span
	start := 0
	for row, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), CellMarker) {
			if row > start {
				spans = append(spans, span{start: start, end: row - 1})
			}
			start = row + 1
		}
	}
	if start < len(lines) {
		spans = append(spans, span{start: start, end: len(lines) - 1})
	}

	var cells []Cell
	for _, sp := range spans {
		first, last := sp.start, sp.end
		for first <= last && strings.TrimSpace(lines[first]) == "" {
			first++
		}
		for last >= first && strings.TrimSpace(lines[last]) == "" {
			last--
		}
		if first > last {
			continue
		}
		cells = append(cells, Cell{
			Code: strings.Join(lines[first:last+1], "\n"),
			Range: core.AnchorRange{
				Start: d.AnchorBefore(core.Point{Row: first, Column: 0}),
				End:   d.AnchorAfter(core.Point{Row: last, Column: len([]rune(lines[last]))}),
			},
			StartRow: first,
			EndRow:   last,
		})
	}
	return cells
}
