package core

import "pkt.systems/kernelx/schema"

const defaultMaxLines = schema.DefaultOutputMaxLines

// buffer accumulates stream text into lines. A trailing line without a
// newline stays open and later writes continue it; '\r' moves the write
// column back to the start of the open line.
type buffer struct {
	lines    []string
	open     bool
	column   int
	maxLines int
}

// Write appends stream text.
func (b *buffer) Write(text string) {
	if text == "" {
		return
	}
	var current []rune
	column := 0
	if b.open && len(b.lines) > 0 {
		current = []rune(b.lines[len(b.lines)-1])
		column = b.column
		b.lines = b.lines[:len(b.lines)-1]
	}
	for _, r := range text {
		switch r {
		case '\n':
			b.lines = append(b.lines, string(current))
			current = nil
			column = 0
			continue
		case '\r':
			column = 0
			continue
		}
		if column < len(current) {
			current[column] = r
		} else {
			current = append(current, r)
		}
		column++
	}
	b.open = len(current) > 0
	if b.open {
		b.lines = append(b.lines, string(current))
		b.column = column
	} else {
		b.column = 0
	}
	b.trim()
}

func (b *buffer) trim() {
	maxLines := b.maxLines
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	if len(b.lines) > maxLines {
		b.lines = append([]string(nil), b.lines[len(b.lines)-maxLines:]...)
	}
}

// Lines returns a copy of the buffered lines including the open line.
func (b *buffer) Lines() []string {
	if b == nil {
		return nil
	}
	return append([]string(nil), b.lines...)
}

func newBuffer() *buffer {
	return &buffer{maxLines: defaultMaxLines}
}

func newBufferWithMaxLines(maxLines int) *buffer {
	buf := newBuffer()
	if maxLines > 0 {
		buf.maxLines = maxLines
	}
	return buf
}
