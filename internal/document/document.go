package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"pkt.systems/kernelx/core"
	"pkt.systems/kernelx/schema"
)

type bias int

const (
	biasLeft bias = iota
	biasRight
)

// anchorEntry records where an anchor was created. Entries are append-only;
// an anchor is rebased through the edit log when it is resolved.
type anchorEntry struct {
	version uint64
	offset  int
	bias    bias
}

// edit replaces runes [start, end) of version i with inserted runes,
// producing version i+1.
type edit struct {
	start    int
	end      int
	inserted int
}

type block struct {
	id    core.BlockID
	props core.BlockProperties
}

// Document is an in-memory versioned text buffer.
type Document struct {
	mu        sync.Mutex
	path      string
	text      []rune
	edits     []edit
	anchors   []anchorEntry
	blocks    map[core.BlockID]*block
	nextBlock core.BlockID
	subs      map[int]func(core.EditEvent)
	nextSub   int
	cursor    core.Anchor
	scroll    core.Autoscroll
	closed    bool
}

var _ core.Document = (*Document)(nil)

// New returns a document holding text and not backed by a file.
func New(text string) *Document {
	return NewWithPath(text, "")
}

// NewWithPath returns a document holding text for the given file path.
func NewWithPath(text, path string) *Document {
	d := &Document{
		path:   path,
		text:   []rune(text),
		blocks: make(map[core.BlockID]*block),
		subs:   make(map[int]func(core.EditEvent)),
		cursor: core.AnchorMin,
	}
	// Reserve the ids of AnchorMin and AnchorMax.
	d.anchors = append(d.anchors, anchorEntry{bias: biasLeft}, anchorEntry{bias: biasRight})
	return d
}

// Open reads a file into a document.
func Open(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return NewWithPath(string(data), abs), nil
}

// Path returns the backing file path, if any.
func (d *Document) Path() string {
	return d.path
}

// Snapshot captures the current version.
func (d *Document) Snapshot() core.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Document) snapshotLocked() *Snapshot {
	return &Snapshot{
		version: uint64(len(d.edits)),
		text:    d.text,
		edits:   d.edits[:len(d.edits):len(d.edits)],
		anchors: d.anchors[:len(d.anchors):len(d.anchors)],
	}
}

// Text returns the current text.
func (d *Document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.text)
}

// AnchorBefore returns an anchor that stays left of text inserted at point.
func (d *Document) AnchorBefore(point core.Point) core.Anchor {
	return d.newAnchor(point, biasLeft)
}

// AnchorAfter returns an anchor that stays right of text inserted at point.
func (d *Document) AnchorAfter(point core.Point) core.Anchor {
	return d.newAnchor(point, biasRight)
}

func (d *Document) newAnchor(point core.Point, b bias) core.Anchor {
	d.mu.Lock()
	defer d.mu.Unlock()
	offset := pointToOffset(d.text, point)
	d.anchors = append(d.anchors, anchorEntry{version: uint64(len(d.edits)), offset: offset, bias: b})
	return core.Anchor(len(d.anchors) - 1)
}

// Insert inserts text at point.
func (d *Document) Insert(point core.Point, text string) error {
	return d.Replace(point, point, text)
}

// Delete removes the text between two points.
func (d *Document) Delete(start, end core.Point) error {
	return d.Replace(start, end, "")
}

// Replace replaces the text between two points. Subscribers are notified
// after the document lock is released.
func (d *Document) Replace(start, end core.Point, text string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return schema.ErrDocumentClosed
	}
	from := pointToOffset(d.text, start)
	to := pointToOffset(d.text, end)
	if to < from {
		d.mu.Unlock()
		return fmt.Errorf("invalid range %v..%v", start, end)
	}
	inserted := []rune(text)
	if from == to && len(inserted) == 0 {
		d.mu.Unlock()
		return nil
	}
	next := make([]rune, 0, len(d.text)-(to-from)+len(inserted))
	next = append(next, d.text[:from]...)
	next = append(next, inserted...)
	next = append(next, d.text[to:]...)
	d.text = next
	d.edits = append(d.edits, edit{start: from, end: to, inserted: len(inserted)})
	event := core.EditEvent{Version: uint64(len(d.edits))}
	subs := make([]func(core.EditEvent), 0, len(d.subs))
	ids := make([]int, 0, len(d.subs))
	for id := range d.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, d.subs[id])
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// Subscribe registers an edit callback.
func (d *Document) Subscribe(fn func(core.EditEvent)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// InsertBlock registers a visual region.
func (d *Document) InsertBlock(props core.BlockProperties) core.BlockID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextBlock++
	id := d.nextBlock
	d.blocks[id] = &block{id: id, props: props}
	return id
}

// RemoveBlocks drops visual regions. Unknown ids are ignored.
func (d *Document) RemoveBlocks(ids []core.BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		delete(d.blocks, id)
	}
}

// BlockView is a rendered visual region.
type BlockView struct {
	ID    core.BlockID
	Row   int
	Lines []string
}

// Blocks renders the registered regions ordered by row.
func (d *Document) Blocks() []BlockView {
	d.mu.Lock()
	snapshot := d.snapshotLocked()
	type entry struct {
		id      core.BlockID
		row     int
		content core.BlockContent
	}
	entries := make([]entry, 0, len(d.blocks))
	for _, b := range d.blocks {
		entries = append(entries, entry{id: b.id, row: snapshot.ToPoint(b.props.Position).Row, content: b.props.Content})
	}
	d.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].row == entries[j].row {
			return entries[i].id < entries[j].id
		}
		return entries[i].row < entries[j].row
	})
	views := make([]BlockView, 0, len(entries))
	for _, e := range entries {
		var lines []string
		if e.content != nil {
			lines = e.content.Lines()
		}
		views = append(views, BlockView{ID: e.id, Row: e.row, Lines: lines})
	}
	return views
}

// ActivateClose fires the close control of a visual region.
func (d *Document) ActivateClose(id core.BlockID) bool {
	d.mu.Lock()
	b, ok := d.blocks[id]
	d.mu.Unlock()
	if !ok || b.props.Content == nil {
		return false
	}
	b.props.Content.Close()
	return true
}

// MoveCursor moves the primary cursor and scrolls to keep context above it.
func (d *Document) MoveCursor(anchor core.Anchor, scroll core.Autoscroll) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursor = anchor
	d.scroll = scroll
}

// Cursor returns the cursor position.
func (d *Document) Cursor() core.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked().ToPoint(d.cursor)
}

// ScrollTop returns the first visible row after the last autoscroll.
func (d *Document) ScrollTop() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	row := d.snapshotLocked().ToPoint(d.cursor).Row
	top := row - d.scroll.ContextLines
	if top < 0 {
		return 0
	}
	return top
}

// WorkingDirectory returns the directory of the backing file.
func (d *Document) WorkingDirectory() (string, bool) {
	if d.path == "" {
		return "", false
	}
	return filepath.Dir(d.path), true
}

// Close marks the document closed. Further edits fail.
func (d *Document) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Closed reports whether the document was closed.
func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func pointToOffset(text []rune, point core.Point) int {
	if point.Row < 0 {
		return 0
	}
	row := 0
	offset := 0
	for row < point.Row {
		idx := indexRune(text[offset:], '\n')
		if idx < 0 {
			return len(text)
		}
		offset += idx + 1
		row++
	}
	lineEnd := indexRune(text[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(text) - offset
	}
	col := point.Column
	if col < 0 {
		col = 0
	}
	if col > lineEnd {
		col = lineEnd
	}
	return offset + col
}

func offsetToPoint(text []rune, offset int) core.Point {
	if offset > len(text) {
		offset = len(text)
	}
	point := core.Point{}
	for _, r := range text[:offset] {
		if r == '\n' {
			point.Row++
			point.Column = 0
			continue
		}
		point.Column++
	}
	return point
}

func indexRune(text []rune, target rune) int {
	for i, r := range text {
		if r == target {
			return i
		}
	}
	return -1
}
