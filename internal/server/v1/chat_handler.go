package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-gateway/internal/gateway"
	"github.com/nulzo/prism-gateway/internal/server/middleware"
	"github.com/nulzo/prism-gateway/internal/server/validator"
	"github.com/nulzo/prism-gateway/pkg/api"
)

const (
	// HeaderProvider pins the provider id for one request.
	HeaderProvider = "X-Provider"
	// HeaderProviderKey carries a per-request upstream credential.
	HeaderProviderKey = "X-Provider-Key"
)

type ChatHandler struct {
	service gateway.Service
}

func NewChatHandler(service gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// CreateCompletion accepts a canonical chat request.
//
// POST /v1/chat/completions
func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(validator.Problem(err))
		return
	}

	target := api.Target{
		Provider:   c.GetHeader(HeaderProvider),
		Credential: c.GetHeader(HeaderProviderKey),
	}

	if req.Stream {
		h.handleStream(c, target, &req)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), target, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) fail(c *gin.Context, err error) {
	if e, ok := api.AsError(err); ok && e.Provider != "" {
		c.Set(middleware.ProviderKey, e.Provider)
	}
	_ = c.Error(err)
}

func (h *ChatHandler) handleStream(c *gin.Context, target api.Target, req *api.ChatRequest) {
	stream, err := h.service.StreamChat(c.Request.Context(), target, req)
	if err != nil {
		// nothing was written yet, so this is still a normal problem response
		h.fail(c, err)
		return
	}
	defer stream.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// A client disconnect cancels the request context, which ends Recv.
	w := c.Writer
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			w.Flush()
			return
		}
		if err != nil {
			writeStreamError(w, err)
			w.Flush()
			_ = c.Error(err)
			return
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		w.Flush()
	}
}

// writeStreamError sends the terminal error frame. Headers are gone by now so
// the problem travels in-band.
func writeStreamError(w io.Writer, err error) {
	e, ok := api.AsError(err)
	if !ok {
		e = api.Unclassified(err, nil)
	}
	data, mErr := json.Marshal(api.ProblemFromError(e))
	if mErr != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}
