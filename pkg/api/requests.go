package api

import (
	"encoding/json"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ChatRequest is the provider agnostic request handed to the dispatcher.
// It is treated as read-only once constructed; codecs never modify it.
type ChatRequest struct {
	// the model to send the request to, as understood by the upstream provider
	Model string `json:"model" binding:"required"`

	// message array is required, dive in and deep validate
	Messages []Message `json:"messages" binding:"required,min=1,dive"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`

	Sampling

	// Tool calling
	Tools      []Tool      `json:"tools,omitempty" binding:"omitempty,dive"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`
}

// Sampling is the enumerated set of generation parameters. Nil means unset,
// so codecs only forward what the caller actually supplied.
type Sampling struct {
	MaxTokens        *int     `json:"max_tokens,omitempty" binding:"omitempty,min=1"`
	Temperature      *float64 `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TopP             *float64 `json:"top_p,omitempty" binding:"omitempty,min=0,max=1"`
	TopK             *int     `json:"top_k,omitempty" binding:"omitempty,min=0"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Message is a single conversation turn. A message with Role == RoleTool is a
// tool result and must reference an earlier ToolCall through ToolCallID.
type Message struct {
	Role       Role       `json:"role" binding:"required,oneof=system user assistant tool"`
	Content    Content    `json:"content"` // string or []ContentPart
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"` // For assistant messages
}

// Content handles the union type: string | []ContentPart
type Content struct {
	Text  string
	Parts []ContentPart
}

// String flattens the text of the content, ignoring non-text parts.
func (c Content) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	s := ""
	for _, p := range c.Parts {
		if p.Type == PartText {
			s += p.Text
		}
	}
	return s
}

func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

func (c *Content) UnmarshalJSON(data []byte) error {
	// Try string first
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	// Try array of parts
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, &c.Parts)
	}
	if string(data) == "null" {
		return nil
	}
	return fmt.Errorf("content must be a string or an array of parts")
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func Text(s string) Content {
	return Content{Text: s}
}

const (
	PartText  = "text"
	PartImage = "image_url"
)

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type Tool struct {
	Type     string              `json:"type"` // "function"
	Function FunctionDescription `json:"function"`
}

type FunctionDescription struct {
	Description string                 `json:"description,omitempty"`
	Name        string                 `json:"name" binding:"required"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"` // JSON Schema object
}

// ToolCall is a function invocation issued by the assistant. The ID must be
// unique within a response and is what tool results refer back to.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice handles the union type: "auto" | "none" | "required" | {"type":"function",...}
type ToolChoice struct {
	Mode     ToolChoiceMode
	Function string
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var mode string
		if err := json.Unmarshal(data, &mode); err != nil {
			return err
		}
		t.Mode = ToolChoiceMode(mode)
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Mode = ToolChoiceFunction
	t.Function = obj.Function.Name
	return nil
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	if t.Mode != ToolChoiceFunction {
		return json.Marshal(string(t.Mode))
	}
	return json.Marshal(map[string]interface{}{
		"type":     "function",
		"function": map[string]string{"name": t.Function},
	})
}

// Target identifies the upstream a request is dispatched to. Credential is an
// opaque secret attached to the outbound call; when empty the configured key
// for the provider is used.
type Target struct {
	Provider   string
	Credential string
}
