package codec

import (
	"net/http"
	"testing"

	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseErrorBody(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     api.ErrorKind
		message  string
		code     string
		typ      string
		hasRaw   bool
		retrying bool
	}{
		{
			name:   "openai shape",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			kind:   api.KindProviderReportedFailure, message: "Rate limit reached", code: "rate_limit_exceeded", typ: "requests", retrying: true,
		},
		{
			name:   "bare string error",
			status: http.StatusBadRequest,
			body:   `{"error":"model not found"}`,
			kind:   api.KindProviderReportedFailure, message: "model not found",
		},
		{
			name:   "html from a proxy",
			status: http.StatusBadGateway,
			body:   `<html><body>502 Bad Gateway</body></html>`,
			kind:   api.KindUnclassified, hasRaw: true, retrying: true,
		},
		{
			name:   "json without message",
			status: http.StatusInternalServerError,
			body:   `{"ok":false}`,
			kind:   api.KindUnclassified, hasRaw: true, retrying: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ParseErrorBody(tt.status, []byte(tt.body), DefaultErrorShape)
			require.NotNil(t, e)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.retrying, e.Retryable())
			if tt.hasRaw {
				assert.Equal(t, tt.body, string(e.Raw))
				return
			}
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.typ, e.Type)
		})
	}
}

func TestParseDataURI(t *testing.T) {
	img, err := ParseDataURI("image_url", "data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MediaType)
	assert.Equal(t, "iVBORw0KGgo=", img.Data)
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", img.DataURI())

	_, err = ParseDataURI("image_url", "data:image/png;base64,***")
	assert.Equal(t, api.KindMalformedInput, api.KindOf(err))

	_, err = ParseDataURI("image_url", "https://example.com/cat.png")
	assert.Equal(t, api.KindUnsupportedOperation, api.KindOf(err))
}

func TestCheckCapabilities(t *testing.T) {
	req := &api.ChatRequest{
		Model:    "m",
		Messages: []api.Message{{Role: api.RoleUser, Content: api.Text("hi")}},
		Tools:    []api.Tool{{Type: "function", Function: api.FunctionDescription{Name: "f"}}},
	}
	err := CheckCapabilities(req, Capabilities{})
	assert.Equal(t, api.KindUnsupportedOperation, api.KindOf(err))
	assert.NoError(t, CheckCapabilities(req, Capabilities{Tools: true}))

	err = Prepare(req, Endpoint{}, Capabilities{Tools: true, RequiresCredential: true})
	assert.ErrorIs(t, err, &api.Error{Kind: api.KindMissingVariable, Field: "credential"})
}
