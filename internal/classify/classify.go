// Package classify maps the raw failures seen at any stage of a call into
// the canonical error taxonomy.
package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

// Error classifies err for a call to provider. Upstream error bodies are
// handed to c, the codec the call was encoded with; c may be nil when the
// failure happened before a codec was resolved. The result is never nil for
// a non-nil err and always carries the provider.
func Error(err error, provider string, c codec.Codec) *api.Error {
	if err == nil {
		return nil
	}
	return classify(err, c).WithProvider(provider)
}

func classify(err error, c codec.Codec) *api.Error {
	if e, ok := api.AsError(err); ok {
		return e
	}

	var upstream *transport.UpstreamError
	if errors.As(err, &upstream) {
		return upstreamError(upstream, c)
	}

	var te *transport.Error
	if errors.As(err, &te) {
		e := api.TransportFailure(transportMessage(te), err)
		e.Timeout = te.Timeout
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e := api.TransportFailure("deadline exceeded", err)
		e.Timeout = true
		return e
	case errors.Is(err, context.Canceled):
		return api.TransportFailure("call canceled", err)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		e := api.TransportFailure("network error", err)
		e.Timeout = ne.Timeout()
		return e
	}

	var corrupt base64.CorruptInputError
	if errors.As(err, &corrupt) {
		return api.MalformedInput("function.arguments", "invalid base64", err)
	}

	var (
		syntax    *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		unmarshal *json.InvalidUnmarshalError
	)
	switch {
	case errors.As(err, &syntax), errors.As(err, &unmarshal):
		return api.MalformedInput("body", "malformed JSON", err)
	case errors.As(err, &typeErr):
		return api.MalformedInput(typeErr.Field, "unexpected JSON type", err)
	case errors.Is(err, io.ErrUnexpectedEOF):
		return api.MalformedInput("body", "truncated payload", err)
	}

	return api.Unclassified(err, nil)
}

func upstreamError(u *transport.UpstreamError, c codec.Codec) *api.Error {
	var e *api.Error
	if c != nil {
		e = c.DecodeError(u.StatusCode, u.Body)
	}
	if e == nil {
		e = codec.ParseErrorBody(u.StatusCode, u.Body, codec.DefaultErrorShape)
	}
	if e.Status == 0 {
		e.Status = u.StatusCode
	}
	if e.Cause == nil {
		e.Cause = u
	}
	return e
}

func transportMessage(te *transport.Error) string {
	switch {
	case te.Timeout:
		return "upstream timed out"
	case errors.Is(te.Err, transport.ErrBodyTooLarge):
		return "upstream response too large"
	case errors.Is(te.Err, context.Canceled):
		return "call canceled"
	case te.Op == "read":
		return "upstream connection broke while reading"
	default:
		return "upstream unreachable"
	}
}
