package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

// errClosed is the cause recorded when the consumer closes a stream before
// its finish chunk.
var errClosed = errors.New("stream closed by caller")

// Stream is the lazy chunk sequence of one streaming call. Recv must be
// called from a single goroutine; Close may be called from any goroutine.
type Stream struct {
	ctx    context.Context
	frames *transport.Frames
	dec    codec.StreamDecoder

	mu      sync.Mutex
	call    *call
	err     error
	done    bool
	first   bool
	drained bool
}

func newStream(ctx context.Context, c *call, frames *transport.Frames, dec codec.StreamDecoder) *Stream {
	return &Stream{ctx: ctx, call: c, frames: frames, dec: dec}
}

// Recv returns the next chunk. After the finish chunk it returns io.EOF.
// The first error ends the stream: it is returned by this and every later
// call and no chunks follow it.
func (s *Stream) Recv() (api.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.err != nil {
			return api.Chunk{}, s.err
		}
		if s.done {
			return api.Chunk{}, io.EOF
		}

		chunk, err := s.dec.Next()
		switch {
		case err == nil:
			return s.deliver(chunk), nil
		case errors.Is(err, codec.ErrNeedMoreData):
		case errors.Is(err, io.EOF):
			// A decoder that ends without a finish chunk has violated the
			// stream contract even if the handler did not notice.
			return api.Chunk{}, s.failLocked(api.ProtocolViolation("stream ended without a finish reason"))
		default:
			return api.Chunk{}, s.failLocked(err)
		}

		if s.drained {
			return api.Chunk{}, s.failLocked(api.ProtocolViolation("stream ended inside an event"))
		}

		s.mu.Unlock()
		data, ferr := s.frames.Next(s.ctx)
		s.mu.Lock()

		if s.err != nil {
			return api.Chunk{}, s.err
		}
		switch {
		case ferr == nil:
			s.dec.Write(data)
		case errors.Is(ferr, io.EOF):
			s.drained = true
			s.dec.Close()
		default:
			return api.Chunk{}, s.failLocked(ferr)
		}
	}
}

func (s *Stream) deliver(chunk api.Chunk) api.Chunk {
	if !s.first {
		s.first = true
		s.call.outcome.TTFT = time.Since(s.call.outcome.Started)
	}
	switch chunk.Kind {
	case api.ChunkUsage:
		s.call.outcome.Usage = chunk.Usage
	case api.ChunkFinish:
		s.done = true
		s.frames.Close()
		s.call.complete(chunk.FinishReason, s.call.outcome.Usage)
	}
	return chunk
}

func (s *Stream) failLocked(err error) error {
	e := s.call.fail(err)
	s.err = e
	s.frames.Close()
	return e
}

// Close releases the upstream connection. Closing before the finish chunk
// fails the call as cancelled. It is safe to call more than once.
func (s *Stream) Close() error {
	// Unblocks a Recv parked in frames.Next before taking the lock.
	s.frames.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.err != nil {
		return nil
	}
	s.failLocked(&transport.Error{Op: "read", Err: errors.Join(context.Canceled, errClosed)})
	return nil
}

// State reports where the underlying call is in its lifecycle.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call.state
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
