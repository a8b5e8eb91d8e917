package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the canonical failure taxonomy. Retry and fallback policy
// outside the core branches on it.
type ErrorKind int

const (
	// KindUnclassified wraps an external cause that could not be interpreted.
	// It is a last resort; classifiable failures never end up here.
	KindUnclassified ErrorKind = iota
	KindMissingVariable
	KindMalformedInput
	KindUpstreamProtocolViolation
	KindUpstreamTransportFailure
	KindUnsupportedOperation
	KindProviderReportedFailure
)

var kindNames = map[ErrorKind]string{
	KindUnclassified:              "unclassified",
	KindMissingVariable:           "missing_variable",
	KindMalformedInput:            "malformed_input",
	KindUpstreamProtocolViolation: "upstream_protocol_violation",
	KindUpstreamTransportFailure:  "upstream_transport_failure",
	KindUnsupportedOperation:      "unsupported_operation",
	KindProviderReportedFailure:   "provider_reported_failure",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the single structured failure value surfaced by the core.
type Error struct {
	Kind ErrorKind

	// Provider is the provider id the call was dispatched to, when known.
	Provider string

	// Field names the offending or missing input, e.g. "messages[2].tool_call_id".
	Field string

	// Status and Code are the provider's own HTTP status and error code.
	Status int
	Code   string
	Type   string

	// Safe message for the client
	Message string

	// Timeout marks transport failures caused by an exceeded deadline.
	Timeout bool

	// Raw holds the provider payload verbatim when it could not be interpreted.
	Raw []byte

	// Original error for internal logging
	Cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two canonical errors of the same kind, so callers can use
// errors.Is(err, &api.Error{Kind: api.KindMalformedInput}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// Retryable reports whether the same request may succeed if sent again,
// to this or another provider.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindUpstreamTransportFailure:
		return true
	case KindProviderReportedFailure, KindUnclassified:
		switch e.Status {
		case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
			return true
		}
		if e.Status >= 500 {
			return true
		}
		switch strings.ToLower(e.Code) {
		case "rate_limit_exceeded", "rate_limit_error", "overloaded_error", "resource_exhausted", "unavailable", "server_error":
			return true
		}
		return false
	default:
		return false
	}
}

// HTTPStatus is the status an HTTP front end should answer with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindMissingVariable, KindMalformedInput:
		return http.StatusBadRequest
	case KindUnsupportedOperation:
		return http.StatusUnprocessableEntity
	case KindUpstreamTransportFailure:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case KindUpstreamProtocolViolation:
		return http.StatusBadGateway
	case KindProviderReportedFailure:
		switch {
		case e.Status == http.StatusTooManyRequests:
			return http.StatusTooManyRequests
		case e.Status == http.StatusBadRequest, e.Status == http.StatusNotFound,
			e.Status == http.StatusRequestEntityTooLarge, e.Status == http.StatusUnprocessableEntity:
			return e.Status
		case e.Status == http.StatusServiceUnavailable:
			return http.StatusServiceUnavailable
		default:
			// 401/403 upstream means our credential is wrong, not the caller's
			return http.StatusBadGateway
		}
	default:
		return http.StatusInternalServerError
	}
}

// WithProvider returns e tagged with provider if it has none yet.
func (e *Error) WithProvider(provider string) *Error {
	if e.Provider == "" {
		e.Provider = provider
	}
	return e
}

// WithField prefixes the field path, e.g. "function.arguments" becomes
// "messages[1].tool_calls[0].function.arguments".
func (e *Error) WithField(prefix string) *Error {
	switch {
	case prefix == "":
	case e.Field == "":
		e.Field = prefix
	default:
		e.Field = prefix + "." + e.Field
	}
	return e
}

func MissingVariable(name string) *Error {
	return &Error{Kind: KindMissingVariable, Field: name, Message: "missing variable " + name}
}

func MalformedInput(field, msg string, cause error) *Error {
	return &Error{Kind: KindMalformedInput, Field: field, Message: msg, Cause: cause}
}

func ProtocolViolation(msg string) *Error {
	return &Error{Kind: KindUpstreamProtocolViolation, Message: msg}
}

func TransportFailure(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamTransportFailure, Message: msg, Cause: cause}
}

func UnsupportedOperation(what string) *Error {
	return &Error{Kind: KindUnsupportedOperation, Message: what + " is not supported"}
}

func ProviderFailure(status int, code, typ, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Kind: KindProviderReportedFailure, Status: status, Code: code, Type: typ, Message: msg}
}

// Unclassified keeps the cause and any raw payload untouched for diagnostics.
func Unclassified(cause error, raw []byte) *Error {
	e := &Error{Kind: KindUnclassified, Cause: cause}
	if raw != nil {
		e.Raw = append([]byte(nil), raw...)
	}
	return e
}

// AsError reports whether err is (or wraps) a canonical error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of a canonical error, or KindUnclassified.
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnclassified
}
