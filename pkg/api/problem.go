package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Problem implements RFC 9457
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem

	data := make(map[string]interface{})

	for k, v := range p.Extensions {
		data[k] = v
	}

	stdJSON, err := json.Marshal(Alias(*p))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stdJSON, &data); err != nil {
		return nil, err
	}

	return json.Marshal(data)
}

type ProblemOption func(*Problem)

// NewProblem creates a generic Problem
func NewProblem(status int, title, detail string, opts ...ProblemOption) *Problem {
	p := &Problem{
		Type:       "about:blank", // Default as per RFC
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithExtension adds a custom key-value pair to the response
func WithExtension(key string, value interface{}) ProblemOption {
	return func(p *Problem) {
		p.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ProblemOption {
	return func(p *Problem) {
		p.Log = err
	}
}

// WithType sets the RFC "type" URI
func WithType(uri string) ProblemOption {
	return func(p *Problem) {
		p.Type = uri
	}
}

// ValidationProblem creates a rich validation error
func ValidationProblem(validationErrors map[string]string) *Problem {
	return NewProblem(
		http.StatusBadRequest,
		"Validation Error",
		"One or more fields failed validation",
		WithType("urn:prism:problem:validation"),
		WithExtension("errors", validationErrors),
	)
}

// ProblemFromError renders a canonical error. The provider's status and code
// travel as extensions so clients can apply their own retry policy.
func ProblemFromError(e *Error) *Problem {
	status := e.HTTPStatus()
	opts := []ProblemOption{
		WithType("urn:prism:problem:" + e.Kind.String()),
		WithExtension("kind", e.Kind.String()),
		WithExtension("retryable", e.Retryable()),
		WithLog(e),
	}
	if e.Provider != "" {
		opts = append(opts, WithExtension("provider", e.Provider))
	}
	if e.Status != 0 {
		opts = append(opts, WithExtension("provider_status", e.Status))
	}
	if e.Code != "" {
		opts = append(opts, WithExtension("provider_code", e.Code))
	}
	if e.Field != "" {
		opts = append(opts, WithExtension("field", e.Field))
	}

	detail := e.Message
	if detail == "" {
		// never leak a wrapped cause verbatim
		detail = "An unexpected error occurred."
	}
	return NewProblem(status, http.StatusText(status), detail, opts...)
}
