package wire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"pkt.systems/kernelx/schema"
)

// Decoder reads one protocol message per line.
type Decoder struct {
	reader *bufio.Reader
}

// DecodeError reports a line that could not be decoded.
type DecodeError struct {
	line []byte
	err  error
}

func (e *DecodeError) Error() string {
	if e == nil || e.err == nil {
		return "jsonl decode error"
	}
	return e.err.Error()
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Line returns the offending line.
func (e *DecodeError) Line() []byte {
	if e == nil {
		return nil
	}
	return e.line
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next message. Blank lines are skipped. A malformed line
// yields a *DecodeError and the decoder stays usable.
func (d *Decoder) Next(ctx context.Context) (schema.Message, error) {
	for {
		if ctx.Err() != nil {
			return schema.Message{}, ctx.Err()
		}
		line, err := d.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return schema.Message{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return schema.Message{}, err
			}
			continue
		}
		var msg schema.Message
		if decodeErr := json.Unmarshal(line, &msg); decodeErr != nil {
			return schema.Message{}, &DecodeError{line: append([]byte(nil), line...), err: decodeErr}
		}
		return msg, nil
	}
}

// Encoder writes one protocol message per line. It is safe for concurrent
// use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes msg followed by a newline.
func (e *Encoder) Encode(msg schema.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
