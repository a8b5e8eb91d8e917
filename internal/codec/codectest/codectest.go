// Package codectest holds fixtures and helpers shared by the provider codec tests.
package codectest

import (
	"errors"
	"io"
	"testing"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/require"
)

// Conversation is a request with text, a tool call and its result.
func Conversation() *api.ChatRequest {
	temp := 0.2
	maxTokens := 256
	return &api.ChatRequest{
		Model: "test-model",
		Messages: []api.Message{
			{Role: api.RoleSystem, Content: api.Text("You are terse.")},
			{Role: api.RoleUser, Content: api.Text("What is the weather in Paris?")},
			{Role: api.RoleAssistant, ToolCalls: []api.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: api.FunctionCall{Name: "get_weather", Arguments: `{"city":"Paris"}`},
			}}},
			{Role: api.RoleTool, ToolCallID: "call_1", Content: api.Text(`{"temp_c":21}`)},
			{Role: api.RoleAssistant, Content: api.Text("It is 21C in Paris.")},
		},
		Sampling: api.Sampling{Temperature: &temp, MaxTokens: &maxTokens},
		Tools: []api.Tool{{
			Type: "function",
			Function: api.FunctionDescription{
				Name:        "get_weather",
				Description: "Current weather for a city",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"city": map[string]interface{}{"type": "string"}},
				},
			},
		}},
	}
}

// UnknownToolResult references a tool call id nobody issued.
func UnknownToolResult() *api.ChatRequest {
	req := Conversation()
	req.Messages[3].ToolCallID = "call_404"
	return req
}

// Decode feeds body to dec in pieces of split bytes, then closes it, and
// returns everything it produced.
func Decode(t *testing.T, dec codec.StreamDecoder, body []byte, split int) ([]api.Chunk, []error) {
	t.Helper()
	if split <= 0 {
		split = len(body)
	}
	var chunks []api.Chunk
	var errs []error
	drain := func() {
		for {
			c, err := dec.Next()
			switch {
			case err == nil:
				chunks = append(chunks, c)
				continue
			case errors.Is(err, codec.ErrNeedMoreData), errors.Is(err, io.EOF):
				return
			default:
				errs = append(errs, err)
			}
		}
	}
	for i := 0; i < len(body); i += split {
		end := i + split
		if end > len(body) {
			end = len(body)
		}
		dec.Write(body[i:end])
		drain()
	}
	dec.Close()
	drain()
	return chunks, errs
}

// Assemble folds chunks into a response, failing the test on ordering errors.
func Assemble(t *testing.T, chunks []api.Chunk) *api.Response {
	t.Helper()
	acc := api.NewAccumulator()
	for _, c := range chunks {
		require.NoError(t, acc.Add(c))
	}
	require.True(t, acc.Finished(), "stream produced no finish chunk")
	return acc.Response()
}
