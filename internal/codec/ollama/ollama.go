// Package ollama implements the native /api/chat wire format of a local
// Ollama server.
package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

const DefaultBaseURL = "http://localhost:11434"

// toolsSince is the first server release with tool calling on /api/chat.
var toolsSince = version.Must(version.NewVersion("0.3.0"))

func init() {
	codec.Register("ollama", Codec{})
	codec.RegisterBaseURL("ollama", DefaultBaseURL)
}

type Codec struct{}

func (Codec) Name() string { return "ollama" }

// Capabilities reads the "version" option, the server's reported release.
// An absent or unparseable version is assumed to be current.
func (Codec) Capabilities(ep codec.Endpoint) codec.Capabilities {
	caps := codec.Capabilities{Tools: true, Images: true, Reasoning: true}
	if raw := ep.Option("version"); raw != "" {
		if v, err := version.NewVersion(raw); err == nil && v.LessThan(toolsSince) {
			caps.Tools = false
		}
	}
	return caps
}

func (c Codec) EncodeRequest(req *api.ChatRequest, ep codec.Endpoint, stream bool) (*transport.Request, error) {
	if err := codec.Prepare(req, ep, c.Capabilities(ep)); err != nil {
		return nil, err
	}
	if tc := req.ToolChoice; tc != nil && tc.Mode != api.ToolChoiceAuto {
		return nil, api.UnsupportedOperation("tool_choice " + string(tc.Mode))
	}

	wire := chatRequest{Model: req.Model, Stream: stream}
	opts := &options{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		NumPredict:       req.MaxTokens,
		Stop:             req.Stop,
		Seed:             req.Seed,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if !opts.empty() {
		wire.Options = opts
	}
	if raw := ep.Option("think"); raw != "" {
		think := ep.BoolOption("think")
		wire.Think = &think
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, tool{Type: "function", Function: toolFunction{
			Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters,
		}})
	}

	names := api.ToolCallNames(req.Messages)
	for i, m := range req.Messages {
		wm, err := encodeMessage(fmt.Sprintf("messages[%d]", i), m, names)
		if err != nil {
			return nil, err
		}
		wire.Messages = append(wire.Messages, wm)
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, api.MalformedInput("request", "failed to marshal request body", err)
	}
	accept := "application/json"
	if stream {
		accept = "application/x-ndjson"
	}
	auth := ""
	if ep.Credential != "" {
		auth = ep.Authorization()
	}
	return &transport.Request{
		Method: http.MethodPost,
		URL:    ep.URL("/api/chat"),
		Header: codec.Header(ep, "Accept", accept, "Authorization", auth),
		Body:   body,
	}, nil
}

func encodeMessage(path string, m api.Message, names map[string]string) (message, error) {
	wm := message{Role: string(m.Role), Content: m.Content.String()}
	if m.Role == api.RoleTool {
		wm.ToolCallID = m.ToolCallID
		wm.ToolName = names[m.ToolCallID]
		return wm, nil
	}
	for k, p := range m.Content.Parts {
		if p.Type != api.PartImage {
			continue
		}
		img, err := codec.ParseDataURI(fmt.Sprintf("%s.content[%d].image_url.url", path, k), p.ImageURL.URL)
		if err != nil {
			return message{}, err
		}
		wm.Images = append(wm.Images, img.Data)
	}
	for j, tc := range m.ToolCalls {
		args, err := tc.Function.JSONArguments()
		if err != nil {
			if e, ok := api.AsError(err); ok {
				return message{}, e.WithField(fmt.Sprintf("%s.tool_calls[%d]", path, j))
			}
			return message{}, err
		}
		wm.ToolCalls = append(wm.ToolCalls, toolCall{ID: tc.ID, Function: toolCallFunction{Name: tc.Function.Name, Arguments: args}})
	}
	return wm, nil
}

// DecodeRequest parses an /api/chat body. Images come back as PNG data URIs
// because the wire format drops the media type. Tool calls without ids get
// generated ones and results are matched to them by tool_name, falling back
// to call order.
func (Codec) DecodeRequest(body []byte) (*api.ChatRequest, error) {
	var wire chatRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid chat request", err)
	}
	req := &api.ChatRequest{Model: wire.Model, Stream: wire.Stream}
	if o := wire.Options; o != nil {
		req.Sampling = api.Sampling{
			MaxTokens:        o.NumPredict,
			Temperature:      o.Temperature,
			TopP:             o.TopP,
			TopK:             o.TopK,
			FrequencyPenalty: o.FrequencyPenalty,
			PresencePenalty:  o.PresencePenalty,
			Seed:             o.Seed,
			Stop:             o.Stop,
		}
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, api.Tool{Type: "function", Function: api.FunctionDescription{
			Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters,
		}})
	}

	var pending []api.ToolCall
	for i, wm := range wire.Messages {
		m := api.Message{Role: api.Role(wm.Role), Content: api.Text(wm.Content)}
		if len(wm.Images) > 0 {
			parts := []api.ContentPart{}
			if wm.Content != "" {
				parts = append(parts, api.ContentPart{Type: api.PartText, Text: wm.Content})
			}
			for _, img := range wm.Images {
				parts = append(parts, api.ContentPart{Type: api.PartImage, ImageURL: &api.ImageURL{
					URL: codec.ImageData{MediaType: "image/png", Data: img}.DataURI(),
				}})
			}
			m.Content = api.Content{Parts: parts}
		}
		for _, tc := range wm.ToolCalls {
			id := tc.ID
			if id == "" {
				id = codec.NewToolCallID()
			}
			call := api.ToolCall{ID: id, Type: "function", Function: api.FunctionCall{
				Name: tc.Function.Name, Arguments: argsText(tc.Function.Arguments),
			}}
			m.ToolCalls = append(m.ToolCalls, call)
			pending = append(pending, call)
		}
		if m.Role == api.RoleTool {
			m.ToolCallID = wm.ToolCallID
			if m.ToolCallID == "" {
				var ok bool
				m.ToolCallID, pending, ok = claim(pending, wm.ToolName)
				if !ok {
					return nil, api.MalformedInput(fmt.Sprintf("messages[%d].tool_name", i), "tool result does not match any tool call", nil)
				}
			}
		}
		req.Messages = append(req.Messages, m)
	}
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// claim takes the first pending call with the given name, or the first one
// at all when the name is empty.
func claim(pending []api.ToolCall, name string) (string, []api.ToolCall, bool) {
	for i, c := range pending {
		if name == "" || c.Function.Name == name {
			return c.ID, append(pending[:i:i], pending[i+1:]...), true
		}
	}
	return "", pending, false
}

// argsText renders arguments as JSON text. Ollama sends an object, a few
// compatible servers send the JSON encoded as a string.
func argsText(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "{}"
	}
	if s[0] == '"' {
		var inner string
		if json.Unmarshal(raw, &inner) == nil {
			return inner
		}
	}
	return s
}

func (Codec) DecodeResponse(body []byte, ep codec.Endpoint) (*api.Response, error) {
	var wire chatResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid chat response", err)
	}
	if wire.Error != "" {
		return nil, api.ProviderFailure(0, "", "", wire.Error)
	}
	if !wire.Done {
		return nil, api.ProtocolViolation("response is not done")
	}
	resp := &api.Response{Model: wire.Model, Usage: wire.usage()}
	if wire.Message != nil {
		content := wire.Message.Content
		resp.Reasoning = wire.Message.Thinking
		if ep.BoolOption("split_think_tags") {
			var thought string
			content, thought = codec.SplitThinking(content)
			resp.Reasoning += thought
		}
		resp.Content = content

		enc := codec.ArgumentEncoding(ep)
		for _, tc := range wire.Message.ToolCalls {
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
				Function: api.FunctionCall{Name: tc.Function.Name, Arguments: argsText(tc.Function.Arguments), Encoding: enc},
			})
		}
	}
	if err := codec.CheckToolCallIDs(resp.ToolCalls); err != nil {
		return nil, err
	}
	resp.FinishReason = finishReason(wire.DoneReason, len(resp.ToolCalls) > 0)
	return resp, nil
}

func (Codec) DecodeError(status int, body []byte) *api.Error {
	return codec.ParseErrorBody(status, body, codec.DefaultErrorShape)
}
