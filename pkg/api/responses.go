package api

// FinishReason is the terminal classification of why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
)

// Response is the assembled result of a non-streaming call.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Content      string       `json:"content"`
	Reasoning    string       `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        *Usage       `json:"usage,omitempty"`
}

type Usage struct {
	// Standard Token Counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Token Breakdown
	CachedTokens    int `json:"cached_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// Normalize fills TotalTokens when the provider only reports the parts.
func (u *Usage) Normalize() *Usage {
	if u != nil && u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

type ChunkKind string

const (
	ChunkContent   ChunkKind = "content"
	ChunkReasoning ChunkKind = "reasoning"
	ChunkToolCall  ChunkKind = "tool_call"
	ChunkUsage     ChunkKind = "usage"
	ChunkFinish    ChunkKind = "finish"
)

// Chunk is one incremental unit of a streamed response. Exactly one of Text,
// ToolCall, Usage or FinishReason is meaningful, depending on Kind.
type Chunk struct {
	Kind         ChunkKind      `json:"kind"`
	Text         string         `json:"text,omitempty"`
	ToolCall     *ToolCallDelta `json:"tool_call,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
}

// ToolCallDelta is a fragment of one tool call. ID is present on every delta;
// Name is set on the first delta for that ID, Arguments carries the next
// slice of the argument text.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Encoding is set on the first delta when the provider sends encoded arguments.
	Encoding ArgumentEncoding `json:"arguments_encoding,omitempty"`
}

func ContentChunk(s string) Chunk   { return Chunk{Kind: ChunkContent, Text: s} }
func ReasoningChunk(s string) Chunk { return Chunk{Kind: ChunkReasoning, Text: s} }
func UsageChunk(u *Usage) Chunk     { return Chunk{Kind: ChunkUsage, Usage: u.Normalize()} }
func FinishChunk(r FinishReason) Chunk {
	return Chunk{Kind: ChunkFinish, FinishReason: r}
}

func ToolCallChunk(d ToolCallDelta) Chunk {
	return Chunk{Kind: ChunkToolCall, ToolCall: &d}
}

// Terminal reports whether the chunk ends the stream.
func (c Chunk) Terminal() bool { return c.Kind == ChunkFinish }
