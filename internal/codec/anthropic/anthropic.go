// Package anthropic implements the Messages API wire format.
package anthropic

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	DefaultVersion   = "2023-06-01"
	DefaultMaxTokens = 4096
)

var errorShape = codec.ErrorShape{
	Message: []string{"error.message", "message"},
	Code:    []string{"error.type"},
	Type:    []string{"error.type", "type"},
}

func init() {
	codec.Register("anthropic", Codec{})
	codec.RegisterBaseURL("anthropic", DefaultBaseURL)
}

type Codec struct{}

func (Codec) Name() string { return "anthropic" }

func (Codec) Capabilities(codec.Endpoint) codec.Capabilities {
	return codec.Capabilities{
		Tools:              true,
		Images:             true,
		RemoteImages:       true,
		Reasoning:          true,
		RequiresCredential: true,
	}
}

func (c Codec) EncodeRequest(req *api.ChatRequest, ep codec.Endpoint, stream bool) (*transport.Request, error) {
	if err := codec.Prepare(req, ep, c.Capabilities(ep)); err != nil {
		return nil, err
	}
	switch {
	case req.FrequencyPenalty != nil:
		return nil, api.UnsupportedOperation("frequency_penalty")
	case req.PresencePenalty != nil:
		return nil, api.UnsupportedOperation("presence_penalty")
	case req.Seed != nil:
		return nil, api.UnsupportedOperation("seed")
	}

	wire := request{
		Model:         req.Model,
		MaxTokens:     DefaultMaxTokens,
		Stream:        stream,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		wire.MaxTokens = *req.MaxTokens
	}
	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		wire.Tools = append(wire.Tools, tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: schema})
	}
	if tc := req.ToolChoice; tc != nil {
		wire.ToolChoice = encodeToolChoice(*tc)
	}

	var system []string
	for i, m := range req.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		if m.Role == api.RoleSystem {
			system = append(system, m.Content.String())
			continue
		}
		blocks, err := encodeBlocks(path, m)
		if err != nil {
			return nil, err
		}
		role := "user"
		if m.Role == api.RoleAssistant {
			role = "assistant"
		}
		// the API requires alternating roles; tool results after a user turn share it
		if n := len(wire.Messages); n > 0 && wire.Messages[n-1].Role == role {
			wire.Messages[n-1].Content = append(wire.Messages[n-1].Content, blocks...)
			continue
		}
		wire.Messages = append(wire.Messages, message{Role: role, Content: blocks})
	}
	wire.System = strings.Join(system, "\n")

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, api.MalformedInput("request", "failed to marshal request body", err)
	}

	version := ep.Option("version")
	if version == "" {
		version = DefaultVersion
	}
	accept := "application/json"
	if stream {
		accept = "text/event-stream"
	}
	return &transport.Request{
		Method: http.MethodPost,
		URL:    ep.URL("/messages"),
		Header: codec.Header(ep,
			"Accept", accept,
			"x-api-key", ep.Credential,
			"anthropic-version", version,
			"anthropic-beta", ep.Option("beta"),
		),
		Body: body,
	}, nil
}

func encodeToolChoice(tc api.ToolChoice) *toolChoice {
	switch tc.Mode {
	case api.ToolChoiceRequired:
		return &toolChoice{Type: "any"}
	case api.ToolChoiceNone:
		return &toolChoice{Type: "none"}
	case api.ToolChoiceFunction:
		return &toolChoice{Type: "tool", Name: tc.Function}
	default:
		return &toolChoice{Type: "auto"}
	}
}

func encodeBlocks(path string, m api.Message) ([]block, error) {
	if m.Role == api.RoleTool {
		content, _ := json.Marshal(m.Content.String())
		return []block{{Type: "tool_result", ToolUseID: m.ToolCallID, Content: content}}, nil
	}

	var blocks []block
	if len(m.Content.Parts) == 0 && m.Content.Text != "" {
		blocks = append(blocks, block{Type: "text", Text: m.Content.Text})
	}
	for k, p := range m.Content.Parts {
		switch p.Type {
		case api.PartText:
			if p.Text != "" {
				blocks = append(blocks, block{Type: "text", Text: p.Text})
			}
		case api.PartImage:
			field := fmt.Sprintf("%s.content[%d].image_url.url", path, k)
			if !codec.IsDataURI(p.ImageURL.URL) {
				blocks = append(blocks, block{Type: "image", Source: &imageSource{Type: "url", URL: p.ImageURL.URL}})
				continue
			}
			img, err := codec.ParseDataURI(field, p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block{Type: "image", Source: &imageSource{Type: "base64", MediaType: img.MediaType, Data: img.Data}})
		}
	}
	for j, tc := range m.ToolCalls {
		args, err := tc.Function.JSONArguments()
		if err != nil {
			if e, ok := api.AsError(err); ok {
				return nil, e.WithField(fmt.Sprintf("%s.tool_calls[%d]", path, j))
			}
			return nil, err
		}
		blocks = append(blocks, block{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	if len(blocks) == 0 {
		return nil, api.MalformedInput(path+".content", "message has no content", nil)
	}
	return blocks, nil
}

func (Codec) DecodeRequest(body []byte) (*api.ChatRequest, error) {
	var wire request
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid messages request", err)
	}
	maxTokens := wire.MaxTokens
	req := &api.ChatRequest{
		Model:  wire.Model,
		Stream: wire.Stream,
		Sampling: api.Sampling{
			MaxTokens:   &maxTokens,
			Temperature: wire.Temperature,
			TopP:        wire.TopP,
			TopK:        wire.TopK,
			Stop:        wire.StopSequences,
		},
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, api.Tool{Type: "function", Function: api.FunctionDescription{
			Name: t.Name, Description: t.Description, Parameters: t.InputSchema,
		}})
	}
	if tc := wire.ToolChoice; tc != nil {
		req.ToolChoice = decodeToolChoice(*tc)
	}
	if wire.System != "" {
		req.Messages = append(req.Messages, api.Message{Role: api.RoleSystem, Content: api.Text(wire.System)})
	}

	for i, wm := range wire.Messages {
		msgs, err := decodeMessage(fmt.Sprintf("messages[%d]", i), wm)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeToolChoice(tc toolChoice) *api.ToolChoice {
	switch tc.Type {
	case "any":
		return &api.ToolChoice{Mode: api.ToolChoiceRequired}
	case "none":
		return &api.ToolChoice{Mode: api.ToolChoiceNone}
	case "tool":
		return &api.ToolChoice{Mode: api.ToolChoiceFunction, Function: tc.Name}
	default:
		return &api.ToolChoice{Mode: api.ToolChoiceAuto}
	}
}

// decodeMessage splits one wire message into canonical messages: every
// tool_result becomes its own tool message, in block order.
func decodeMessage(path string, wm message) ([]api.Message, error) {
	var out []api.Message
	role := api.Role(wm.Role)
	current := api.Message{Role: role}
	var parts []api.ContentPart

	flush := func() {
		current.Content = collapse(parts)
		if !current.Content.IsEmpty() || len(current.ToolCalls) > 0 {
			out = append(out, current)
		}
		current = api.Message{Role: role}
		parts = nil
	}

	for k, b := range wm.Content {
		switch b.Type {
		case "text":
			parts = append(parts, api.ContentPart{Type: api.PartText, Text: b.Text})
		case "image":
			if b.Source == nil {
				return nil, api.MissingVariable(fmt.Sprintf("%s.content[%d].source", path, k))
			}
			url := b.Source.URL
			if b.Source.Type == "base64" {
				url = codec.ImageData{MediaType: b.Source.MediaType, Data: b.Source.Data}.DataURI()
			}
			parts = append(parts, api.ContentPart{Type: api.PartImage, ImageURL: &api.ImageURL{URL: url}})
		case "tool_use":
			current.ToolCalls = append(current.ToolCalls, api.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: api.FunctionCall{Name: b.Name, Arguments: string(b.Input)},
			})
		case "tool_result":
			text, err := toolResultText(b.Content)
			if err != nil {
				return nil, api.MalformedInput(fmt.Sprintf("%s.content[%d].content", path, k), "invalid tool_result content", err)
			}
			flush()
			out = append(out, api.Message{Role: api.RoleTool, ToolCallID: b.ToolUseID, Content: api.Text(text)})
		case "thinking", "redacted_thinking":
		default:
			return nil, api.MalformedInput(fmt.Sprintf("%s.content[%d].type", path, k), "unknown content block "+b.Type, nil)
		}
	}

	flush()
	return out, nil
}

// collapse turns a lone text part back into plain text content.
func collapse(parts []api.ContentPart) api.Content {
	if len(parts) == 1 && parts[0].Type == api.PartText {
		return api.Text(parts[0].Text)
	}
	return api.Content{Parts: parts}
}

func toolResultText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if raw[0] == '"' {
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, bl := range blocks {
		b.WriteString(bl.Text)
	}
	return b.String(), nil
}

func (Codec) DecodeResponse(body []byte, ep codec.Endpoint) (*api.Response, error) {
	var wire response
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid messages response", err)
	}
	if wire.StopReason == "" {
		return nil, api.ProtocolViolation("response has no stop_reason")
	}

	resp := &api.Response{
		ID:           wire.ID,
		Model:        wire.Model,
		FinishReason: finishReason(wire.StopReason),
		Usage:        wire.Usage.canonical(),
	}
	var content, reasoning strings.Builder
	enc := codec.ArgumentEncoding(ep)
	for _, b := range wire.Content {
		switch b.Type {
		case "text":
			content.WriteString(b.Text)
		case "thinking":
			reasoning.WriteString(b.Thinking)
		case "tool_use":
			if b.Name == "" {
				return nil, api.ProtocolViolation("tool_use block without a name")
			}
			id := b.ID
			if id == "" {
				id = codec.NewToolCallID()
			}
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, api.ToolCall{
				ID:       id,
				Type:     "function",
				Function: api.FunctionCall{Name: b.Name, Arguments: args, Encoding: enc},
			})
		}
	}
	if err := codec.CheckToolCallIDs(resp.ToolCalls); err != nil {
		return nil, err
	}
	resp.Content = content.String()
	resp.Reasoning = reasoning.String()
	return resp, nil
}

func (Codec) DecodeError(status int, body []byte) *api.Error {
	return codec.ParseErrorBody(status, body, errorShape)
}
