// Package google implements the Gemini generateContent wire format.
package google

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

var errorShape = codec.ErrorShape{
	Message: []string{"error.message", "message"},
	Code:    []string{"error.status", "error.code"},
	Type:    []string{"error.status"},
}

func init() {
	codec.Register("google", Codec{})
	codec.RegisterBaseURL("google", DefaultBaseURL)
}

type Codec struct{}

func (Codec) Name() string { return "google" }

// Capabilities: images must be inline, the API cannot fetch arbitrary URLs.
func (Codec) Capabilities(codec.Endpoint) codec.Capabilities {
	return codec.Capabilities{
		Tools:              true,
		Images:             true,
		Reasoning:          true,
		RequiresCredential: true,
	}
}

func modelPath(model, method string) string {
	return "models/" + strings.TrimPrefix(model, "models/") + ":" + method
}

func (c Codec) EncodeRequest(req *api.ChatRequest, ep codec.Endpoint, stream bool) (*transport.Request, error) {
	if err := codec.Prepare(req, ep, c.Capabilities(ep)); err != nil {
		return nil, err
	}

	wire := request{}
	gen := &generationConfig{
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		MaxOutputTokens:  req.MaxTokens,
		StopSequences:    req.Stop,
		Seed:             req.Seed,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
	}
	if !gen.empty() {
		wire.GenerationConfig = gen
	}
	if len(req.Tools) > 0 {
		set := toolSet{}
		for _, t := range req.Tools {
			set.FunctionDeclarations = append(set.FunctionDeclarations, functionDeclaration{
				Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters,
			})
		}
		wire.Tools = []toolSet{set}
	}
	if tc := req.ToolChoice; tc != nil {
		wire.ToolConfig = encodeToolChoice(*tc)
	}

	names := api.ToolCallNames(req.Messages)
	var system []part
	for i, m := range req.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		if m.Role == api.RoleSystem {
			system = append(system, part{Text: m.Content.String()})
			continue
		}
		parts, err := encodeParts(path, m, names)
		if err != nil {
			return nil, err
		}
		role := "user"
		if m.Role == api.RoleAssistant {
			role = "model"
		}
		if n := len(wire.Contents); n > 0 && wire.Contents[n-1].Role == role {
			wire.Contents[n-1].Parts = append(wire.Contents[n-1].Parts, parts...)
			continue
		}
		wire.Contents = append(wire.Contents, content{Role: role, Parts: parts})
	}
	if len(system) > 0 {
		wire.SystemInstruction = &content{Parts: system}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, api.MalformedInput("request", "failed to marshal request body", err)
	}

	url := ep.URL(modelPath(req.Model, "generateContent"))
	accept := "application/json"
	if stream {
		url = ep.URL(modelPath(req.Model, "streamGenerateContent")) + "?alt=sse"
		accept = "text/event-stream"
	}
	return &transport.Request{
		Method: http.MethodPost,
		URL:    url,
		Header: codec.Header(ep,
			"Accept", accept,
			"x-goog-api-key", ep.Credential,
		),
		Body: body,
	}, nil
}

func encodeToolChoice(tc api.ToolChoice) *toolConfig {
	switch tc.Mode {
	case api.ToolChoiceRequired:
		return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY"}}
	case api.ToolChoiceNone:
		return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "NONE"}}
	case api.ToolChoiceFunction:
		return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "ANY", AllowedFunctionNames: []string{tc.Function}}}
	default:
		return &toolConfig{FunctionCallingConfig: functionCallingConfig{Mode: "AUTO"}}
	}
}

// encodeParts renders one message. Tool results carry the function name,
// which Gemini requires, looked up from the assistant turn that issued the call.
func encodeParts(path string, m api.Message, names map[string]string) ([]part, error) {
	if m.Role == api.RoleTool {
		response, _ := json.Marshal(map[string]string{"content": m.Content.String()})
		return []part{{FunctionResponse: &functionResponse{
			ID:       m.ToolCallID,
			Name:     names[m.ToolCallID],
			Response: response,
		}}}, nil
	}

	var parts []part
	if len(m.Content.Parts) == 0 && m.Content.Text != "" {
		parts = append(parts, part{Text: m.Content.Text})
	}
	for k, p := range m.Content.Parts {
		switch p.Type {
		case api.PartText:
			if p.Text != "" {
				parts = append(parts, part{Text: p.Text})
			}
		case api.PartImage:
			img, err := codec.ParseDataURI(fmt.Sprintf("%s.content[%d].image_url.url", path, k), p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part{InlineData: &blob{MimeType: img.MediaType, Data: img.Data}})
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
		parts = append(parts, part{FunctionCall: &functionCall{ID: tc.ID, Name: tc.Function.Name, Args: args}})
	}
	if len(parts) == 0 {
		return nil, api.MalformedInput(path+".content", "message has no content", nil)
	}
	return parts, nil
}

// DecodeRequest parses a generateContent body. The model lives in the URL
// for this API, so the decoded request has none.
func (Codec) DecodeRequest(body []byte) (*api.ChatRequest, error) {
	var wire request
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid generateContent request", err)
	}
	req := &api.ChatRequest{}
	if g := wire.GenerationConfig; g != nil {
		req.Sampling = api.Sampling{
			MaxTokens:        g.MaxOutputTokens,
			Temperature:      g.Temperature,
			TopP:             g.TopP,
			TopK:             g.TopK,
			FrequencyPenalty: g.FrequencyPenalty,
			PresencePenalty:  g.PresencePenalty,
			Seed:             g.Seed,
			Stop:             g.StopSequences,
		}
	}
	for _, set := range wire.Tools {
		for _, fd := range set.FunctionDeclarations {
			req.Tools = append(req.Tools, api.Tool{Type: "function", Function: api.FunctionDescription{
				Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters,
			}})
		}
	}
	if tc := wire.ToolConfig; tc != nil {
		req.ToolChoice = decodeToolChoice(tc.FunctionCallingConfig)
	}
	if si := wire.SystemInstruction; si != nil {
		var b strings.Builder
		for _, p := range si.Parts {
			b.WriteString(p.Text)
		}
		req.Messages = append(req.Messages, api.Message{Role: api.RoleSystem, Content: api.Text(b.String())})
	}

	// older clients omit functionResponse.id; resolve it by name
	lastID := make(map[string]string)
	for i, c := range wire.Contents {
		msgs, err := decodeContent(fmt.Sprintf("contents[%d]", i), c, lastID)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msgs...)
	}
	if len(req.Messages) == 0 {
		return nil, api.MissingVariable("contents")
	}
	return req, nil
}

func decodeToolChoice(c functionCallingConfig) *api.ToolChoice {
	switch c.Mode {
	case "ANY":
		if len(c.AllowedFunctionNames) == 1 {
			return &api.ToolChoice{Mode: api.ToolChoiceFunction, Function: c.AllowedFunctionNames[0]}
		}
		return &api.ToolChoice{Mode: api.ToolChoiceRequired}
	case "NONE":
		return &api.ToolChoice{Mode: api.ToolChoiceNone}
	default:
		return &api.ToolChoice{Mode: api.ToolChoiceAuto}
	}
}

func decodeContent(path string, c content, lastID map[string]string) ([]api.Message, error) {
	var out []api.Message
	current := api.Message{Role: api.RoleUser}
	if c.Role == "model" {
		current.Role = api.RoleAssistant
	}
	var parts []api.ContentPart

	for k, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = codec.NewToolCallID()
			}
			lastID[p.FunctionCall.Name] = id
			current.ToolCalls = append(current.ToolCalls, api.ToolCall{
				ID:       id,
				Type:     "function",
				Function: api.FunctionCall{Name: p.FunctionCall.Name, Arguments: argsText(p.FunctionCall.Args)},
			})
		case p.FunctionResponse != nil:
			fr := p.FunctionResponse
			id := fr.ID
			if id == "" {
				id = lastID[fr.Name]
			}
			out = append(out, api.Message{Role: api.RoleTool, ToolCallID: id, Content: api.Text(responseText(fr.Response))})
		case p.InlineData != nil:
			parts = append(parts, api.ContentPart{Type: api.PartImage, ImageURL: &api.ImageURL{
				URL: codec.ImageData{MediaType: p.InlineData.MimeType, Data: p.InlineData.Data}.DataURI(),
			}})
		case p.Thought:
		case p.Text != "":
			parts = append(parts, api.ContentPart{Type: api.PartText, Text: p.Text})
		default:
			return nil, api.MalformedInput(fmt.Sprintf("%s.parts[%d]", path, k), "unsupported part", nil)
		}
	}

	switch {
	case len(parts) == 1 && parts[0].Type == api.PartText:
		current.Content = api.Text(parts[0].Text)
	case len(parts) > 0:
		current.Content = api.Content{Parts: parts}
	}
	if !current.Content.IsEmpty() || len(current.ToolCalls) > 0 {
		out = append(out, current)
	}
	return out, nil
}

func argsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

// responseText unwraps the {"content": ...} envelope EncodeRequest builds and
// passes any other response object through as JSON text.
func responseText(raw json.RawMessage) string {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err == nil && len(env) == 1 {
		var s string
		if c, ok := env["content"]; ok && json.Unmarshal(c, &s) == nil {
			return s
		}
	}
	return string(raw)
}

func (Codec) DecodeResponse(body []byte, ep codec.Endpoint) (*api.Response, error) {
	var wire response
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, api.MalformedInput("body", "invalid generateContent response", err)
	}
	resp := &api.Response{ID: wire.ResponseID, Model: wire.ModelVersion, Usage: wire.UsageMetadata.canonical()}

	if len(wire.Candidates) == 0 {
		if pf := wire.PromptFeedback; pf != nil && pf.BlockReason != "" {
			resp.FinishReason = api.FinishContentFilter
			return resp, nil
		}
		return nil, api.ProtocolViolation("response has no candidates")
	}
	cand := wire.Candidates[0]

	var text, reasoning strings.Builder
	enc := codec.ArgumentEncoding(ep)
	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			if p.FunctionCall.Name == "" {
				return nil, api.ProtocolViolation("functionCall without a name")
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = codec.NewToolCallID()
			}
			resp.ToolCalls = append(resp.ToolCalls, api.ToolCall{
				ID:       id,
				Type:     "function",
				Function: api.FunctionCall{Name: p.FunctionCall.Name, Arguments: argsText(p.FunctionCall.Args), Encoding: enc},
			})
		case p.Thought:
			reasoning.WriteString(p.Text)
		default:
			text.WriteString(p.Text)
		}
	}
	if err := codec.CheckToolCallIDs(resp.ToolCalls); err != nil {
		return nil, err
	}
	resp.Content = text.String()
	resp.Reasoning = reasoning.String()
	resp.FinishReason = finishReason(cand.FinishReason, len(resp.ToolCalls) > 0)
	if resp.FinishReason == "" {
		return nil, api.ProtocolViolation("candidate has no finishReason")
	}
	return resp, nil
}

func (Codec) DecodeError(status int, body []byte) *api.Error {
	return codec.ParseErrorBody(status, body, errorShape)
}
