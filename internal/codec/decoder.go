package codec

import (
	"errors"
	"io"

	"github.com/nulzo/prism-gateway/pkg/api"
)

// EventHandler turns framed provider events into canonical chunks. A handler
// that fails on an event must not have emitted anything for it.
type EventHandler interface {
	HandleEvent(ev Event, emit func(api.Chunk)) error
	// HandleEOF runs once when input ends before a finish chunk was emitted.
	HandleEOF(emit func(api.Chunk)) error
}

// Decoder is the StreamDecoder shared by every codec: a framer for the
// provider's wire framing plus a handler for its event schema. It owns the
// ordering rules: nothing is emitted after the finish chunk, and the finish
// chunk is emitted at most once.
type Decoder struct {
	framer  Framer
	handler EventHandler

	queue    []api.Chunk
	finished bool
	eof      bool
}

func NewDecoder(f Framer, h EventHandler) *Decoder {
	return &Decoder{framer: f, handler: h}
}

func (d *Decoder) Write(p []byte) { d.framer.Write(p) }

func (d *Decoder) Close() { d.framer.Close() }

func (d *Decoder) emit(c api.Chunk) {
	if d.finished {
		return
	}
	d.queue = append(d.queue, c)
	if c.Terminal() {
		d.finished = true
	}
}

func (d *Decoder) Next() (api.Chunk, error) {
	for {
		if len(d.queue) > 0 {
			c := d.queue[0]
			d.queue = d.queue[1:]
			return c, nil
		}
		if d.finished || d.eof {
			return api.Chunk{}, io.EOF
		}

		ev, err := d.framer.Next()
		switch {
		case err == nil:
			mark := len(d.queue)
			wasFinished := d.finished
			if herr := d.handler.HandleEvent(ev, d.emit); herr != nil {
				d.queue = d.queue[:mark]
				d.finished = wasFinished
				return api.Chunk{}, herr
			}
		case errors.Is(err, ErrNeedMoreData):
			return api.Chunk{}, ErrNeedMoreData
		case errors.Is(err, io.EOF):
			d.eof = true
			if herr := d.handler.HandleEOF(d.emit); herr != nil {
				return api.Chunk{}, herr
			}
		case errors.Is(err, ErrFrameTooLarge):
			return api.Chunk{}, api.ProtocolViolation(err.Error())
		default:
			return api.Chunk{}, api.Unclassified(err, nil)
		}
	}
}

// Terminal holds the finish reason until the provider's end marker so usage
// reported after the finish event still precedes the finish chunk.
type Terminal struct {
	reason api.FinishReason
	usage  *api.Usage
}

func (t *Terminal) SetFinish(r api.FinishReason) {
	if r != "" {
		t.reason = r
	}
}

func (t *Terminal) SetUsage(u *api.Usage) {
	if u != nil {
		t.usage = u
	}
}

func (t *Terminal) Pending() bool { return t.reason != "" }

// Flush emits usage then finish. Without a finish reason it reports that the
// stream ended early.
func (t *Terminal) Flush(emit func(api.Chunk)) error {
	if t.reason == "" {
		return api.ProtocolViolation("stream ended without a finish reason")
	}
	if t.usage != nil {
		emit(api.UsageChunk(t.usage))
	}
	emit(api.FinishChunk(t.reason))
	return nil
}
