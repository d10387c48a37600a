package document

import (
	"cmp"

	"pkt.systems/kernelx/core"
)

// Snapshot is an immutable view of one document version.
type Snapshot struct {
	version uint64
	text    []rune
	edits   []edit
	anchors []anchorEntry
}

var _ core.Snapshot = (*Snapshot)(nil)

// Version returns the number of edits applied to reach this snapshot.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Text returns the snapshot text.
func (s *Snapshot) Text() string {
	return string(s.text)
}

// MaxPoint returns the position of the end of the text.
func (s *Snapshot) MaxPoint() core.Point {
	return offsetToPoint(s.text, len(s.text))
}

// IsValid reports whether the text the anchor is attached to still exists.
func (s *Snapshot) IsValid(anchor core.Anchor) bool {
	_, valid := s.resolve(anchor)
	return valid
}

// Compare orders two anchors by resolved offset.
func (s *Snapshot) Compare(a, b core.Anchor) int {
	left, _ := s.resolve(a)
	right, _ := s.resolve(b)
	return cmp.Compare(left, right)
}

// ToPoint resolves an anchor to a row/column position.
func (s *Snapshot) ToPoint(anchor core.Anchor) core.Point {
	offset, _ := s.resolve(anchor)
	return offsetToPoint(s.text, offset)
}

// resolve rebases an anchor through the edits made since it was created.
// A left-biased anchor is attached to the rune before it and a right-biased
// anchor to the rune after it; deleting that rune invalidates the anchor,
// which keeps resolving to the edge of the deletion.
func (s *Snapshot) resolve(anchor core.Anchor) (int, bool) {
	switch anchor {
	case core.AnchorMin:
		return 0, true
	case core.AnchorMax:
		return len(s.text), true
	}
	if int(anchor) >= len(s.anchors) {
		return 0, false
	}
	entry := s.anchors[anchor]
	if entry.version > s.version {
		return 0, false
	}
	offset := entry.offset
	valid := true
	for _, e := range s.edits[entry.version:s.version] {
		delta := e.inserted - (e.end - e.start)
		switch entry.bias {
		case biasLeft:
			switch {
			case offset <= e.start:
			case offset <= e.end:
				valid = false
				offset = e.start
			default:
				offset += delta
			}
		default:
			switch {
			case offset < e.start:
			case offset < e.end:
				valid = false
				offset = e.start + e.inserted
			default:
				offset += delta
			}
		}
	}
	if offset > len(s.text) {
		offset = len(s.text)
	}
	return offset, valid
}
