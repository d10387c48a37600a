package core

import (
	"fmt"

	"pkt.systems/kernelx/schema"
)

// executionBlock is one code region's output lifecycle.
type executionBlock struct {
	msgID     schema.MessageID
	codeRange AnchorRange
	// invalidation sits at the start of the row after the code; the block is
	// dropped once the text it is attached to is deleted.
	invalidation Anchor
	blockID      BlockID
	view         *executionView
	seq          uint64
}

// newExecutionBlock prepares the document for a block below codeRange and
// registers its visual region. It edits the document, so callers must not
// hold the session lock.
func newExecutionBlock(doc Document, msgID schema.MessageID, codeRange AnchorRange, view *executionView) (*executionBlock, error) {
	snapshot := doc.Snapshot()
	end := snapshot.ToPoint(codeRange.End)
	nextRow := end.Row + 1
	if nextRow > snapshot.MaxPoint().Row {
		// A right-biased end would move past the newline and claim the row
		// below, so pin the end before inserting.
		codeRange.End = doc.AnchorBefore(end)
		if err := doc.Insert(snapshot.MaxPoint(), "\n"); err != nil {
			return nil, fmt.Errorf("insert trailing newline: %w", err)
		}
	}
	invalidation := doc.AnchorBefore(Point{Row: nextRow, Column: 0})
	blockID := doc.InsertBlock(BlockProperties{
		Placement: BlockBelow,
		Position:  codeRange.End,
		Height:    1,
		Style:     BlockStyleSticky,
		Content:   view,
	})
	return &executionBlock{
		msgID:        msgID,
		codeRange:    codeRange,
		invalidation: invalidation,
		blockID:      blockID,
		view:         view,
	}, nil
}

func (b *executionBlock) Snapshot() schema.BlockSnapshot {
	return schema.BlockSnapshot{
		MsgID:   b.msgID,
		BlockID: uint64(b.blockID),
		Status:  b.view.Status(),
		Lines:   b.view.Lines(),
		Outputs: b.view.Outputs(),
	}
}
