package core

import "testing"

func TestBufferContinuesOpenLine(t *testing.T) {
	buf := newBuffer()
	buf.Write("hel")
	buf.Write("lo\nwor")
	buf.Write("ld\n")
	lines := buf.Lines()
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestBufferCarriageReturnRewritesLine(t *testing.T) {
	buf := newBuffer()
	buf.Write("10%\r")
	buf.Write("50%\r")
	buf.Write("100%\n")
	lines := buf.Lines()
	if len(lines) != 1 || lines[0] != "100%" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestBufferCarriageReturnOverwritesPrefix(t *testing.T) {
	buf := newBuffer()
	buf.Write("abcdef\rXY")
	lines := buf.Lines()
	if len(lines) != 1 || lines[0] != "XYcdef" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestBufferCRLF(t *testing.T) {
	buf := newBuffer()
	buf.Write("a\r\nb\r\n")
	lines := buf.Lines()
	if len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestBufferTrimsToMaxLines(t *testing.T) {
	buf := newBufferWithMaxLines(2)
	buf.Write("one\ntwo\nthree\n")
	lines := buf.Lines()
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}
