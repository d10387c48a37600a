package core

// Anchor is a stable position reference into a document. Anchors survive
// edits and are resolved against a Snapshot.
type Anchor uint64

const (
	// AnchorMin always resolves to the start of the document.
	AnchorMin Anchor = 0
	// AnchorMax always resolves to the end of the document.
	AnchorMax Anchor = 1
)

// AnchorRange is a pair of anchors delimiting a code region.
type AnchorRange struct {
	Start Anchor
	End   Anchor
}

// Overlaps reports whether two ranges intersect in the given snapshot.
// Ranges that merely touch count as overlapping.
func (r AnchorRange) Overlaps(other AnchorRange, snapshot Snapshot) bool {
	return snapshot.Compare(r.Start, other.End) <= 0 && snapshot.Compare(r.End, other.Start) >= 0
}

// Point is a zero-based row/column position.
type Point struct {
	Row    int
	Column int
}

// BlockID identifies a visual region registered with the document.
type BlockID uint64

// BlockPlacement positions a visual region relative to its anchor.
type BlockPlacement int

const (
	// BlockBelow renders the region below the anchored row.
	BlockBelow BlockPlacement = iota
	// BlockAbove renders the region above the anchored row.
	BlockAbove
)

// BlockStyle controls how a visual region scrolls.
type BlockStyle int

const (
	// BlockStyleFixed scrolls with the text.
	BlockStyleFixed BlockStyle = iota
	// BlockStyleSticky stays visible while its anchor row is on screen.
	BlockStyleSticky
)

// BlockContent is what a visual region displays. The document calls Close
// when the region's close control is activated.
type BlockContent interface {
	Lines() []string
	Close()
}

// BlockProperties describe a visual region to insert.
type BlockProperties struct {
	Placement BlockPlacement
	Position  Anchor
	// Height is the minimum height in rows; content may grow it.
	Height  int
	Style   BlockStyle
	Content BlockContent
}

// Autoscroll requests the viewport keep ContextLines rows above the cursor.
type Autoscroll struct {
	ContextLines int
}

// EditEvent is delivered to document subscribers after every edit.
type EditEvent struct {
	Version uint64
}

// Snapshot is an immutable view of a document version.
type Snapshot interface {
	Version() uint64
	// IsValid reports whether the text the anchor is attached to still exists.
	IsValid(anchor Anchor) bool
	// Compare orders two anchors by resolved offset.
	Compare(a, b Anchor) int
	ToPoint(anchor Anchor) Point
	MaxPoint() Point
	Text() string
}

// Document is the live text a session executes code from.
type Document interface {
	Snapshot() Snapshot
	// AnchorBefore returns an anchor that stays left of text inserted at point.
	AnchorBefore(point Point) Anchor
	// AnchorAfter returns an anchor that stays right of text inserted at point.
	AnchorAfter(point Point) Anchor
	// Insert edits the text and notifies subscribers synchronously.
	Insert(point Point, text string) error
	InsertBlock(props BlockProperties) BlockID
	RemoveBlocks(ids []BlockID)
	// Subscribe registers an edit callback and returns its cancel func.
	Subscribe(fn func(EditEvent)) func()
	MoveCursor(anchor Anchor, scroll Autoscroll)
	// WorkingDirectory returns the directory of the file backing the document.
	WorkingDirectory() (string, bool)
	Closed() bool
}
