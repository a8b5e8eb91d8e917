package codec

import (
	"bytes"
	"errors"
	"io"
)

// DefaultMaxFrameSize caps a single buffered event. Providers send events of
// a few kilobytes; anything near this is a broken stream.
const DefaultMaxFrameSize = 4 << 20

var ErrFrameTooLarge = errors.New("codec: frame exceeds maximum size")

// Event is one framed unit. NDJSON framing only fills Data.
type Event struct {
	Name string
	ID   string
	Data []byte
}

// Framer splits a byte stream into events. Next returns ErrNeedMoreData
// while the buffer holds only a partial event, and io.EOF after Close once
// everything is drained.
type Framer interface {
	Write(p []byte)
	Next() (Event, error)
	Close()
}

type lineBuffer struct {
	buf    []byte
	max    int
	closed bool
}

// line pops the next line without its terminator. ok is false when no full
// line is buffered; after close the unterminated remainder counts as a line.
func (l *lineBuffer) line() (line []byte, ok bool, err error) {
	if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
		line = bytes.TrimSuffix(l.buf[:i], []byte("\r"))
		l.buf = l.buf[i+1:]
		return line, true, nil
	}
	if l.closed && len(l.buf) > 0 {
		line = bytes.TrimSuffix(l.buf, []byte("\r"))
		l.buf = nil
		return line, true, nil
	}
	if l.max > 0 && len(l.buf) > l.max {
		l.buf = nil
		return nil, false, ErrFrameTooLarge
	}
	return nil, false, nil
}

func (l *lineBuffer) write(p []byte) {
	if len(l.buf) == 0 {
		// drop the consumed prefix instead of growing forever
		l.buf = append(l.buf[:0], p...)
		return
	}
	l.buf = append(l.buf, p...)
}

// SSEFramer implements the text/event-stream format.
type SSEFramer struct {
	lines lineBuffer

	name    string
	id      string
	data    bytes.Buffer
	hasData bool
	size    int
}

func NewSSEFramer(maxFrame int) *SSEFramer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &SSEFramer{lines: lineBuffer{max: maxFrame}}
}

func (f *SSEFramer) Write(p []byte) { f.lines.write(p) }

func (f *SSEFramer) Close() { f.lines.closed = true }

func (f *SSEFramer) Next() (Event, error) {
	for {
		line, ok, err := f.lines.line()
		if err != nil {
			f.reset()
			return Event{}, err
		}
		if !ok {
			if f.lines.closed {
				// a final event without its blank line still counts
				if f.hasData {
					return f.dispatch(), nil
				}
				f.reset()
				return Event{}, io.EOF
			}
			return Event{}, ErrNeedMoreData
		}

		if len(line) == 0 {
			if f.hasData {
				return f.dispatch(), nil
			}
			f.reset()
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		switch string(field) {
		case "event":
			f.name = string(value)
		case "id":
			f.id = string(value)
		case "data":
			if f.hasData {
				f.data.WriteByte('\n')
			}
			f.data.Write(value)
			f.hasData = true
			f.size += len(value)
			if f.lines.max > 0 && f.size > f.lines.max {
				f.reset()
				return Event{}, ErrFrameTooLarge
			}
		}
	}
}

func (f *SSEFramer) dispatch() Event {
	ev := Event{Name: f.name, ID: f.id, Data: append([]byte(nil), f.data.Bytes()...)}
	f.reset()
	return ev
}

func (f *SSEFramer) reset() {
	f.name, f.id = "", ""
	f.data.Reset()
	f.hasData = false
	f.size = 0
}

// NDJSONFramer yields one event per non-blank line.
type NDJSONFramer struct {
	lines lineBuffer
}

func NewNDJSONFramer(maxFrame int) *NDJSONFramer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &NDJSONFramer{lines: lineBuffer{max: maxFrame}}
}

func (f *NDJSONFramer) Write(p []byte) { f.lines.write(p) }

func (f *NDJSONFramer) Close() { f.lines.closed = true }

func (f *NDJSONFramer) Next() (Event, error) {
	for {
		line, ok, err := f.lines.line()
		if err != nil {
			return Event{}, err
		}
		if !ok {
			if f.lines.closed {
				return Event{}, io.EOF
			}
			return Event{}, ErrNeedMoreData
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return Event{Data: append([]byte(nil), line...)}, nil
	}
}
