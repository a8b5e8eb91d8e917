package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator()
	chunks := []Chunk{
		ContentChunk("The"),
		ReasoningChunk("thinking"),
		ToolCallChunk(ToolCallDelta{ID: "call_a", Name: "lookup", Arguments: `{"q":`}),
		ContentChunk(" answer is "),
		ToolCallChunk(ToolCallDelta{ID: "call_a", Arguments: `"x"}`}),
		ContentChunk("4"),
		UsageChunk(&Usage{PromptTokens: 3, CompletionTokens: 4}),
		FinishChunk(FinishStop),
	}
	for _, c := range chunks {
		require.NoError(t, acc.Add(c))
	}

	resp := acc.Response()
	assert.True(t, acc.Finished())
	assert.Equal(t, "The answer is 4", resp.Content)
	assert.Equal(t, "thinking", resp.Reasoning)
	assert.Equal(t, FinishStop, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, `{"q":"x"}`, resp.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 7, resp.Usage.TotalTokens)

	err := acc.Add(ContentChunk("late"))
	assert.Equal(t, KindUpstreamProtocolViolation, KindOf(err))
}

func TestAccumulator_UnknownToolID(t *testing.T) {
	acc := NewAccumulator()
	err := acc.Add(ToolCallChunk(ToolCallDelta{ID: "call_x", Arguments: "{}"}))
	assert.Equal(t, KindUpstreamProtocolViolation, KindOf(err))
}

func TestAccumulator_DuplicateToolID(t *testing.T) {
	acc := NewAccumulator()
	require.NoError(t, acc.Add(ToolCallChunk(ToolCallDelta{ID: "call_1", Name: "a", Arguments: `{"x":1}`})))
	err := acc.Add(ToolCallChunk(ToolCallDelta{ID: "call_1", Name: "b", Arguments: `{"y":2}`}))
	assert.Equal(t, KindUpstreamProtocolViolation, KindOf(err))
	assert.Len(t, acc.Response().ToolCalls, 1)
}
