package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrIdleTimeout is reported when a stream stays silent past its inter-frame deadline.
	ErrIdleTimeout = errors.New("stream idle timeout")
	// ErrBodyTooLarge is reported when a whole-body response exceeds the size cap.
	ErrBodyTooLarge = errors.New("response body too large")
)

// UpstreamError represents an error returned by an upstream service
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	URL        string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Error is a connection level failure: DNS, dial, TLS, deadline or a broken read.
type Error struct {
	Op      string // "send" or "read"
	URL     string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, url string, err error) *Error {
	e := &Error{Op: op, URL: url, Err: err}
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrIdleTimeout):
		e.Timeout = true
	case errors.As(err, &ne) && ne.Timeout():
		e.Timeout = true
	}
	return e
}
