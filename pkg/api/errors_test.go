package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonUnmarshal(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}

func TestError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want bool
	}{
		{"transport", TransportFailure("connection refused", nil), true},
		{"rate limited", ProviderFailure(http.StatusTooManyRequests, "", "", ""), true},
		{"upstream 503", ProviderFailure(http.StatusServiceUnavailable, "", "", ""), true},
		{"overloaded code", ProviderFailure(529, "overloaded_error", "", ""), true},
		{"bad request", ProviderFailure(http.StatusBadRequest, "invalid_request_error", "", ""), false},
		{"auth", ProviderFailure(http.StatusUnauthorized, "", "", ""), false},
		{"malformed", MalformedInput("x", "bad", nil), false},
		{"unsupported", UnsupportedOperation("tools"), false},
		{"missing", MissingVariable("model"), false},
		{"protocol", ProtocolViolation("eof"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Retryable())
		})
	}
}

func TestError_HTTPStatus(t *testing.T) {
	timeout := TransportFailure("deadline exceeded", nil)
	timeout.Timeout = true

	assert.Equal(t, http.StatusBadRequest, MissingVariable("model").HTTPStatus())
	assert.Equal(t, http.StatusUnprocessableEntity, UnsupportedOperation("tools").HTTPStatus())
	assert.Equal(t, http.StatusGatewayTimeout, timeout.HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, TransportFailure("refused", nil).HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, ProviderFailure(429, "", "", "").HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, ProviderFailure(401, "", "", "").HTTPStatus())
	assert.Equal(t, http.StatusNotFound, ProviderFailure(404, "", "", "").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Unclassified(errors.New("boom"), nil).HTTPStatus())
}

func TestError_Wrapping(t *testing.T) {
	cause := errors.New("root cause")
	e := Unclassified(cause, []byte("raw"))
	wrapped := fmt.Errorf("outer: %w", e.WithProvider("openai"))

	got, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "openai", got.Provider)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, []byte("raw"), got.Raw)
	assert.Equal(t, KindUnclassified, KindOf(errors.New("plain")))
	assert.Contains(t, got.Error(), "openai: unclassified: root cause")

	f := MalformedInput("function.arguments", "bad", nil).WithField("messages[1].tool_calls[0]")
	assert.Equal(t, "messages[1].tool_calls[0].function.arguments", f.Field)
}

func TestProblemFromError(t *testing.T) {
	e := ProviderFailure(http.StatusTooManyRequests, "rate_limit_exceeded", "requests", "slow down").WithProvider("openai")
	p := ProblemFromError(e)

	assert.Equal(t, http.StatusTooManyRequests, p.Status)
	assert.Equal(t, "slow down", p.Detail)

	b, err := json.Marshal(p)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, "provider_reported_failure", body["kind"])
	assert.Equal(t, "openai", body["provider"])
	assert.Equal(t, float64(429), body["provider_status"])
	assert.Equal(t, "rate_limit_exceeded", body["provider_code"])
	assert.Equal(t, true, body["retryable"])
	assert.Equal(t, "urn:prism:problem:provider_reported_failure", body["type"])
}
