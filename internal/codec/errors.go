package codec

import (
	"fmt"
	"net/http"

	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/tidwall/gjson"
)

// ErrorShape lists, in priority order, where a provider puts the message,
// code and type of an error body.
type ErrorShape struct {
	Message []string
	Code    []string
	Type    []string
}

// DefaultErrorShape covers the OpenAI style {"error":{...}} body and its
// common variants from compatible servers.
var DefaultErrorShape = ErrorShape{
	Message: []string{"error.message", "error", "message", "detail"},
	Code:    []string{"error.code", "code"},
	Type:    []string{"error.type", "type"},
}

// ParseErrorBody decodes a provider error payload. A body that is not JSON,
// or that carries no message, becomes Unclassified with the raw bytes and
// status kept so the original failure is not masked.
func ParseErrorBody(status int, body []byte, shape ErrorShape) *api.Error {
	if !gjson.ValidBytes(body) {
		return unparsed(status, body)
	}
	doc := gjson.ParseBytes(body)
	if doc.IsArray() {
		// Gemini wraps errors in a one element array
		doc = doc.Get("0")
	}

	msg := first(doc, shape.Message, true)
	if msg == "" {
		return unparsed(status, body)
	}
	e := api.ProviderFailure(status, first(doc, shape.Code, false), first(doc, shape.Type, false), msg)
	return e
}

func unparsed(status int, body []byte) *api.Error {
	e := api.Unclassified(fmt.Errorf("unparseable error body (status %d %s)", status, http.StatusText(status)), body)
	e.Status = status
	return e
}

// first returns the first path holding a scalar. Objects are skipped so
// {"error":{...}} does not satisfy the bare "error" path with JSON text.
func first(doc gjson.Result, paths []string, textOnly bool) string {
	for _, p := range paths {
		r := doc.Get(p)
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if textOnly && r.Type != gjson.String {
			continue
		}
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}
