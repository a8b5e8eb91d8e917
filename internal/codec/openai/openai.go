// Package openai implements the Chat Completions wire format. OpenAI
// compatible servers (DeepSeek, DeepInfra, DashScope, NVIDIA, GitHub Models)
// are served by the same codec with a different base URL and auth scheme.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

const DefaultBaseURL = "https://api.openai.com/v1"

func init() {
	codec.Register("openai", Codec{})
	codec.RegisterBaseURL("openai", DefaultBaseURL)
}

type Codec struct{}

func (Codec) Name() string { return "openai" }

func (Codec) Capabilities(ep codec.Endpoint) codec.Capabilities {
	return codec.Capabilities{
		Tools:              ep.Option("tools") != "false",
		Images:             true,
		RemoteImages:       true,
		Reasoning:          true,
		RequiresCredential: ep.Option("require_credential") != "false",
	}
}

func (c Codec) EncodeRequest(req *api.ChatRequest, ep codec.Endpoint, stream bool) (*transport.Request, error) {
	if err := codec.Prepare(req, ep, c.Capabilities(ep)); err != nil {
		return nil, err
	}

	wire := chatRequest{
		Model:            req.Model,
		Stream:           stream,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Seed:             req.Seed,
		Stop:             req.Stop,
		ToolChoice:       req.ToolChoice,
	}
	if stream {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, tool{Type: "function", Function: t.Function})
	}

	for i, m := range req.Messages {
		wm := message{Role: string(m.Role), Name: m.Name, ToolCallID: m.ToolCallID}
		if !m.Content.IsEmpty() || len(m.ToolCalls) == 0 {
			content := m.Content
			wm.Content = &content
		}
		for j, tc := range m.ToolCalls {
			args, err := tc.Function.JSONArguments()
			if err != nil {
				return nil, withField(err, fmt.Sprintf("messages[%d].tool_calls[%d]", i, j))
			}
			wm.ToolCalls = append(wm.ToolCalls, toolCall{
				ID:   tc.ID,
				Type: "function",
				Function: functionCall{
					Name:      tc.Function.Name,
					Arguments: mustMarshal(string(args)),
				},
			})
		}
		wire.Messages = append(wire.Messages, wm)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, api.MalformedInput("request", "failed to marshal request body", err)
	}

	accept := "application/json"
	if stream {
		accept = "text/event-stream"
	}
	return &transport.Request{
		Method: http.MethodPost,
		URL:    ep.URL("/chat/completions"),
		Header: codec.Header(ep,
			"Accept", accept,
			"Authorization", authorization(ep),
			"OpenAI-Organization", ep.Option("organization"),
		),
		Body: body,
	}, nil
}

func authorization(ep codec.Endpoint) string {
	if ep.Credential == "" {
		return ""
	}
	return ep.Authorization()
}

func (Codec) DecodeRequest(body []byte) (*api.ChatRequest, error) {
	var wire chatRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid chat completions request", err)
	}
	req := &api.ChatRequest{
		Model:  wire.Model,
		Stream: wire.Stream,
		Sampling: api.Sampling{
			MaxTokens:        wire.MaxTokens,
			Temperature:      wire.Temperature,
			TopP:             wire.TopP,
			TopK:             wire.TopK,
			FrequencyPenalty: wire.FrequencyPenalty,
			PresencePenalty:  wire.PresencePenalty,
			Seed:             wire.Seed,
			Stop:             wire.Stop,
		},
		ToolChoice: wire.ToolChoice,
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, api.Tool{Type: "function", Function: t.Function})
	}
	for _, wm := range wire.Messages {
		m := api.Message{Role: api.Role(wm.Role), Name: wm.Name, ToolCallID: wm.ToolCallID}
		if wm.Content != nil {
			m.Content = *wm.Content
		}
		for _, tc := range wm.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: api.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.text()},
			})
		}
		req.Messages = append(req.Messages, m)
	}
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

func (Codec) DecodeResponse(body []byte, ep codec.Endpoint) (*api.Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid chat completions response", err)
	}
	if len(wire.Choices) == 0 {
		return nil, api.ProtocolViolation("response has no choices")
	}
	ch := wire.Choices[0]
	if ch.Message == nil {
		return nil, api.ProtocolViolation("choice has no message")
	}

	resp := &api.Response{
		ID:           wire.ID,
		Model:        wire.Model,
		Reasoning:    reasoningOf(ch.Message),
		Usage:        wire.Usage.canonical(),
		FinishReason: finishReason(deref(ch.FinishReason)),
	}
	content := deref(ch.Message.Content)
	if ep.BoolOption("split_think_tags") {
		var thought string
		content, thought = codec.SplitThinking(content)
		resp.Reasoning += thought
	}
	resp.Content = content

	enc := codec.ArgumentEncoding(ep)
	for _, tc := range ch.Message.ToolCalls {
		if tc.Function.Name == "" {
			return nil, api.ProtocolViolation("tool call without a function name")
		}
		id := tc.ID
		if id == "" {
			id = codec.NewToolCallID()
		}
		resp.ToolCalls = append(resp.ToolCalls, api.ToolCall{
			ID:       id,
			Type:     "function",
			Function: api.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.text(), Encoding: enc},
		})
	}
	if err := codec.CheckToolCallIDs(resp.ToolCalls); err != nil {
		return nil, err
	}
	if resp.FinishReason == "" {
		return nil, api.ProtocolViolation("choice has no finish_reason")
	}
	return resp, nil
}

func (Codec) DecodeError(status int, body []byte) *api.Error {
	return codec.ParseErrorBody(status, body, codec.DefaultErrorShape)
}

func reasoningOf(m *responseMessage) string {
	if m.ReasoningContent != "" {
		return m.ReasoningContent
	}
	return m.Reasoning
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mustMarshal(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func withField(err error, prefix string) error {
	if e, ok := api.AsError(err); ok {
		return e.WithField(prefix)
	}
	return err
}
