// Package codec translates between the canonical model in pkg/api and the wire
// format of one upstream provider. Codecs are stateless; per-call decode state
// lives in the StreamDecoder they hand out.
package codec

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

// ErrNeedMoreData is returned by StreamDecoder.Next when the buffered bytes
// do not yet hold a complete provider event.
var ErrNeedMoreData = errors.New("codec: need more data")

// Codec is the capability interface every provider implements.
type Codec interface {
	Name() string
	Capabilities(ep Endpoint) Capabilities

	EncodeRequest(req *api.ChatRequest, ep Endpoint, stream bool) (*transport.Request, error)
	// DecodeRequest parses a native request body back into canonical form.
	DecodeRequest(body []byte) (*api.ChatRequest, error)
	DecodeResponse(body []byte, ep Endpoint) (*api.Response, error)
	NewStreamDecoder(ep Endpoint) StreamDecoder
	DecodeError(status int, body []byte) *api.Error
}

// StreamDecoder is the resumable, per-call decode state.
//
// Write appends raw bytes of any alignment. Next returns the next canonical
// chunk, ErrNeedMoreData when the buffer holds no complete event, io.EOF once
// the stream ended cleanly, or an *api.Error. A decode error consumes only the
// offending event; later calls continue with what follows it. Close marks the
// end of input so a trailing partial event can be flushed.
type StreamDecoder interface {
	Write(p []byte)
	Next() (api.Chunk, error)
	Close()
}

type Capabilities struct {
	Tools        bool `json:"tools"`
	Images       bool `json:"images"`
	RemoteImages bool `json:"remote_images"`
	Reasoning    bool `json:"reasoning"`
	// RequiresCredential is false for local providers such as Ollama.
	RequiresCredential bool `json:"requires_credential"`
}

// Endpoint is the resolved upstream a request is encoded for.
type Endpoint struct {
	Provider   string
	BaseURL    string
	Credential string
	AuthScheme string
	Options    map[string]string
	Header     map[string]string
}

// URL joins the base URL and path without doubling slashes.
func (e Endpoint) URL(path string) string {
	return strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (e Endpoint) Option(key string) string {
	return e.Options[key]
}

func (e Endpoint) BoolOption(key string) bool {
	b, _ := strconv.ParseBool(e.Options[key])
	return b
}

// Authorization renders the credential with the configured scheme, "Bearer"
// unless the provider asks for something else (GitHub's Azure endpoint wants "token").
func (e Endpoint) Authorization() string {
	scheme := e.AuthScheme
	if scheme == "" {
		scheme = "Bearer"
	}
	return scheme + " " + e.Credential
}

// RequireCredential fails with MissingVariable when the endpoint has no secret.
func RequireCredential(ep Endpoint) error {
	if ep.Credential == "" {
		return api.MissingVariable("credential")
	}
	return nil
}

// CheckCapabilities rejects requests that use something the endpoint cannot
// do, rather than silently dropping it.
func CheckCapabilities(req *api.ChatRequest, caps Capabilities) error {
	usesTools := len(req.Tools) > 0
	for _, m := range req.Messages {
		if len(m.ToolCalls) > 0 || m.Role == api.RoleTool {
			usesTools = true
		}
		for _, p := range m.Content.Parts {
			if p.Type != api.PartImage {
				continue
			}
			if !caps.Images {
				return api.UnsupportedOperation("image input")
			}
			if !caps.RemoteImages && !IsDataURI(p.ImageURL.URL) {
				return api.UnsupportedOperation("remote image url")
			}
		}
	}
	if usesTools && !caps.Tools {
		return api.UnsupportedOperation("tool calling")
	}
	return nil
}

// Prepare runs the checks every EncodeRequest starts with.
func Prepare(req *api.ChatRequest, ep Endpoint, caps Capabilities) error {
	if err := api.Validate(req); err != nil {
		return err
	}
	if caps.RequiresCredential {
		if err := RequireCredential(ep); err != nil {
			return err
		}
	}
	return CheckCapabilities(req, caps)
}

// Header builds the outbound headers: configured extras first, then the
// codec's own, so auth cannot be overridden from config. Empty values are skipped.
func Header(ep Endpoint, kv ...string) http.Header {
	h := make(http.Header, len(ep.Header)+len(kv)/2)
	for k, v := range ep.Header {
		h.Set(k, v)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// ArgumentEncoding is the transfer encoding an endpoint applies to tool-call
// arguments, from the "arguments_encoding" option. Encoded arguments stay
// opaque in decoded responses until a caller asks for them.
func ArgumentEncoding(ep Endpoint) api.ArgumentEncoding {
	return api.ArgumentEncoding(ep.Option("arguments_encoding"))
}

