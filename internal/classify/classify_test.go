package classify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/nulzo/prism-gateway/internal/codec"
	_ "github.com/nulzo/prism-gateway/internal/codec/anthropic"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	anthropic, ok := codec.Lookup("anthropic")
	require.True(t, ok)

	_, b64 := base64.StdEncoding.DecodeString("!!")
	var syntax error = json.Unmarshal([]byte("{"), &struct{}{})

	tests := []struct {
		name    string
		err     error
		kind    api.ErrorKind
		timeout bool
		status  int
	}{
		{"canonical passes through", api.MissingVariable("model"), api.KindMissingVariable, false, 0},
		{"dial failure", &transport.Error{Op: "send", URL: "http://x", Err: errors.New("connection refused")}, api.KindUpstreamTransportFailure, false, 0},
		{"transport timeout", &transport.Error{Op: "read", URL: "http://x", Timeout: true, Err: transport.ErrIdleTimeout}, api.KindUpstreamTransportFailure, true, 0},
		{"deadline", fmt.Errorf("waiting: %w", context.DeadlineExceeded), api.KindUpstreamTransportFailure, true, 0},
		{"provider body", &transport.UpstreamError{StatusCode: 429, Body: []byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)}, api.KindProviderReportedFailure, false, 429},
		{"unparseable body", &transport.UpstreamError{StatusCode: 503, Body: []byte("no healthy upstream")}, api.KindUnclassified, false, 503},
		{"base64", b64, api.KindMalformedInput, false, 0},
		{"json syntax", syntax, api.KindMalformedInput, false, 0},
		{"truncated", io.ErrUnexpectedEOF, api.KindMalformedInput, false, 0},
		{"opaque", errors.New("collaborator exploded"), api.KindUnclassified, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Error(tt.err, "claude", anthropic)
			require.NotNil(t, e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.timeout, e.Timeout)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, "claude", e.Provider)
		})
	}
}

func TestError_KeepsCauseAndRaw(t *testing.T) {
	cause := errors.New("collaborator exploded")
	e := Error(cause, "p", nil)
	assert.ErrorIs(t, e, cause)

	up := &transport.UpstreamError{StatusCode: 502, Body: []byte("<html>bad gateway</html>")}
	e = Error(up, "p", nil)
	assert.Equal(t, api.KindUnclassified, e.Kind)
	assert.Equal(t, up.Body, e.Raw)
	assert.True(t, e.Retryable())
}

func TestError_DoesNotOverwriteProvider(t *testing.T) {
	e := Error(api.ProtocolViolation("x").WithProvider("first"), "second", nil)
	assert.Equal(t, "first", e.Provider)
	assert.Nil(t, Error(nil, "p", nil))
}
