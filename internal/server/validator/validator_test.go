package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bind(t *testing.T, body string) error {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	var req api.ChatRequest
	return c.ShouldBindJSON(&req)
}

func TestParseValidationError(t *testing.T) {
	InitValidator()

	tests := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "model", "model is a required field"},
		{"bad role", `{"model":"m","messages":[{"role":"robot","content":"hi"}]}`, "messages[0].role", "must be one of [system, user, assistant, tool]"},
		{"wrong type", `{"model":"m","stream":"yes","messages":[{"role":"user","content":"hi"}]}`, "stream", "must be a bool"},
		{"not json", `{"model":`, "body", "Invalid request body format. Please fix your payload."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bind(t, tt.body)
			require.Error(t, err)
			got := ParseValidationError(err)
			assert.Equal(t, tt.msg, got[tt.field], "%v", got)
		})
	}
}

func TestProblem(t *testing.T) {
	InitValidator()
	p := Problem(bind(t, `{"messages":[]}`))
	assert.Equal(t, http.StatusBadRequest, p.Status)
	assert.Equal(t, "urn:prism:problem:validation", p.Type)
	assert.Contains(t, p.Extensions, "errors")
}
