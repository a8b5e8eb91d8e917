package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"
)

type frame struct {
	data []byte
	err  error
}

// Frames is a live upstream body. Frames are raw reads and carry no
// alignment with provider events; decoders buffer across them.
type Frames struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	body   io.ReadCloser
	url    string
	idle   time.Duration

	Header     http.Header
	StatusCode int

	ch   chan frame
	done chan struct{}

	closeOnce sync.Once
	err       error
}

func newFrames(ctx context.Context, cancel context.CancelCauseFunc, resp *http.Response, url string, idle time.Duration, readSize int) *Frames {
	f := &Frames{
		ctx:        ctx,
		cancel:     cancel,
		body:       resp.Body,
		url:        url,
		idle:       idle,
		Header:     resp.Header,
		StatusCode: resp.StatusCode,
		ch:         make(chan frame),
		done:       make(chan struct{}),
	}
	go f.pump(readSize)
	return f
}

// pump is the only reader of the body. It exits once the body errors or the
// frames are closed, whichever happens first.
func (f *Frames) pump(readSize int) {
	for {
		buf := make([]byte, readSize)
		n, err := f.body.Read(buf)
		if n > 0 {
			select {
			case f.ch <- frame{data: buf[:n]}:
			case <-f.done:
				return
			}
		}
		if err != nil {
			select {
			case f.ch <- frame{err: err}:
			case <-f.done:
			}
			return
		}
	}
}

// Next blocks for the next frame. It returns io.EOF once the body is
// exhausted; any other error is a *Error. After the first error every call
// returns that same error.
func (f *Frames) Next(ctx context.Context) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}

	timer := time.NewTimer(f.idle)
	defer timer.Stop()

	select {
	case fr := <-f.ch:
		if fr.err == nil {
			return fr.data, nil
		}
		if errors.Is(fr.err, io.EOF) {
			f.fail(io.EOF)
		} else {
			f.fail(wrapErr("read", f.url, causeOf(f.ctx, fr.err)))
		}
	case <-ctx.Done():
		f.fail(wrapErr("read", f.url, context.Cause(ctx)))
	case <-f.ctx.Done():
		f.fail(wrapErr("read", f.url, context.Cause(f.ctx)))
	case <-timer.C:
		f.fail(wrapErr("read", f.url, ErrIdleTimeout))
	}
	return nil, f.err
}

func (f *Frames) fail(err error) {
	f.err = err
	f.Close()
}

// Close releases the connection. It is safe to call more than once and from
// any exit path.
func (f *Frames) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.cancel(nil)
		_ = f.body.Close()
	})
}
