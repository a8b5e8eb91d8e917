package ollama

import (
	"encoding/json"

	"github.com/nulzo/prism-gateway/pkg/api"
)

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
	Tools    []tool    `json:"tools,omitempty"`
	Options  *options  `json:"options,omitempty"`
	Think    *bool     `json:"think,omitempty"`
}

type message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	// ToolName and ToolCallID tie a tool result to its call. Servers that
	// predate them ignore the fields.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string           `json:"id,omitempty"`
	Function toolCallFunction `json:"function"`
}

type toolCallFunction struct {
	Index     *int            `json:"index,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	NumPredict       *int     `json:"num_predict,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	Seed             *int     `json:"seed,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

func (o *options) empty() bool {
	return o.Temperature == nil && o.TopP == nil && o.TopK == nil && o.NumPredict == nil &&
		len(o.Stop) == 0 && o.Seed == nil && o.FrequencyPenalty == nil && o.PresencePenalty == nil
}

// chatResponse is both the non-streaming body and one NDJSON stream line.
type chatResponse struct {
	Model           string   `json:"model"`
	CreatedAt       string   `json:"created_at"`
	Message         *message `json:"message,omitempty"`
	Done            bool     `json:"done"`
	DoneReason      string   `json:"done_reason,omitempty"`
	PromptEvalCount int      `json:"prompt_eval_count"`
	EvalCount       int      `json:"eval_count"`
	Error           string   `json:"error,omitempty"`
}

func (r *chatResponse) usage() *api.Usage {
	if r.PromptEvalCount == 0 && r.EvalCount == 0 {
		return nil
	}
	return (&api.Usage{PromptTokens: r.PromptEvalCount, CompletionTokens: r.EvalCount}).Normalize()
}

func finishReason(s string, sawToolCalls bool) api.FinishReason {
	switch s {
	case "length":
		return api.FinishLength
	default:
		if sawToolCalls {
			return api.FinishToolCalls
		}
		return api.FinishStop
	}
}
