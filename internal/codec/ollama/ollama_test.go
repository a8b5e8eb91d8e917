package ollama

import (
	"strings"
	"testing"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/codec/codectest"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var endpoint = codec.Endpoint{Provider: "local", BaseURL: DefaultBaseURL}

func TestEncodeRequest(t *testing.T) {
	req, err := Codec{}.EncodeRequest(codectest.Conversation(), endpoint, true)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/api/chat", req.URL)
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Equal(t, "application/x-ndjson", req.Header.Get("Accept"))

	body := gjson.ParseBytes(req.Body)
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, int64(256), body.Get("options.num_predict").Int())
	assert.Equal(t, "Paris", body.Get("messages.2.tool_calls.0.function.arguments.city").String())
	assert.Equal(t, "get_weather", body.Get("messages.3.tool_name").String())
}

func TestEncodeRequest_OptionalCredential(t *testing.T) {
	ep := endpoint
	ep.Credential = "proxy-secret"
	req, err := Codec{}.EncodeRequest(codectest.Conversation(), ep, false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer proxy-secret", req.Header.Get("Authorization"))
	assert.False(t, gjson.GetBytes(req.Body, "stream").Bool())
}

func TestCapabilities_ToolsNeedVersion(t *testing.T) {
	old := endpoint
	old.Options = map[string]string{"version": "0.2.8"}
	assert.False(t, Codec{}.Capabilities(old).Tools)

	_, err := Codec{}.EncodeRequest(codectest.Conversation(), old, false)
	assert.Equal(t, api.KindUnsupportedOperation, api.KindOf(err))

	current := endpoint
	current.Options = map[string]string{"version": "0.5.1"}
	assert.True(t, Codec{}.Capabilities(current).Tools)
	assert.False(t, Codec{}.Capabilities(current).RequiresCredential)
}

func TestEncodeRequest_Rejects(t *testing.T) {
	req := codectest.Conversation()
	req.ToolChoice = &api.ToolChoice{Mode: api.ToolChoiceRequired}
	_, err := Codec{}.EncodeRequest(req, endpoint, false)
	assert.Equal(t, api.KindUnsupportedOperation, api.KindOf(err))

	_, err = Codec{}.EncodeRequest(codectest.UnknownToolResult(), endpoint, false)
	assert.Equal(t, api.KindMalformedInput, api.KindOf(err))

	remote := &api.ChatRequest{Model: "llava", Messages: []api.Message{{Role: api.RoleUser, Content: api.Content{Parts: []api.ContentPart{
		{Type: api.PartImage, ImageURL: &api.ImageURL{URL: "https://example.com/cat.png"}},
	}}}}}
	_, err = Codec{}.EncodeRequest(remote, endpoint, false)
	assert.Equal(t, api.KindUnsupportedOperation, api.KindOf(err))
}

func TestRoundTrip(t *testing.T) {
	original := codectest.Conversation()
	req, err := Codec{}.EncodeRequest(original, endpoint, false)
	require.NoError(t, err)

	decoded, err := Codec{}.DecodeRequest(req.Body)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestDecodeRequest_MatchesResultsByName(t *testing.T) {
	body := `{"model":"llama3.1","messages":[
		{"role":"user","content":"weather and time?"},
		{"role":"assistant","content":"","tool_calls":[
			{"function":{"name":"get_weather","arguments":{"city":"Rome"}}},
			{"function":{"name":"get_time","arguments":{}}}
		]},
		{"role":"tool","content":"12:00","tool_name":"get_time"},
		{"role":"tool","content":"sunny"}
	]}`
	req, err := Codec{}.DecodeRequest([]byte(body))
	require.NoError(t, err)

	calls := req.Messages[1].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, calls[1].ID, req.Messages[2].ToolCallID)
	assert.Equal(t, calls[0].ID, req.Messages[3].ToolCallID)
	assert.Equal(t, `{"city":"Rome"}`, calls[0].Function.Arguments)
}

func TestDecodeResponse_Scenario(t *testing.T) {
	body := `{"model":"llama3","message":{"role":"assistant","content":"4"},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":1}`
	resp, err := Codec{}.DecodeResponse([]byte(body), endpoint)
	require.NoError(t, err)
	assert.Equal(t, "4", resp.Content)
	assert.Equal(t, api.FinishStop, resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func ndjson(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

const toolResponse = `{"model":"qwen3","message":{"role":"assistant","content":"Checking.","thinking":"need weather",` +
	`"tool_calls":[{"id":"call_x","function":{"name":"get_weather","arguments":{"city":"Paris"}}}]},` +
	`"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":8}`

var toolStream = ndjson(
	`{"model":"qwen3","message":{"role":"assistant","content":"","thinking":"need "},"done":false}`,
	`{"model":"qwen3","message":{"role":"assistant","content":"","thinking":"weather"},"done":false}`,
	`{"model":"qwen3","message":{"role":"assistant","content":"Check"},"done":false}`,
	`{"model":"qwen3","message":{"role":"assistant","content":"ing."},"done":false}`,
	`{"model":"qwen3","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_x","function":{"name":"get_weather","arguments":{"city":"Paris"}}}]},"done":false}`,
	`{"model":"qwen3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":8}`,
)

func TestStream_EquivalentToNonStreaming(t *testing.T) {
	whole, err := Codec{}.DecodeResponse([]byte(toolResponse), endpoint)
	require.NoError(t, err)
	assert.Equal(t, api.FinishToolCalls, whole.FinishReason)

	for _, split := range []int{1, 7, 50, len(toolStream)} {
		chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), toolStream, split)
		require.Empty(t, errs)

		streamed := codectest.Assemble(t, chunks)
		assert.Equal(t, whole.Content, streamed.Content)
		assert.Equal(t, whole.Reasoning, streamed.Reasoning)
		assert.Equal(t, whole.FinishReason, streamed.FinishReason)
		assert.Equal(t, whole.ToolCalls, streamed.ToolCalls)
		assert.Equal(t, whole.Usage, streamed.Usage)
	}
}

func TestStream_Scenario(t *testing.T) {
	body := ndjson(
		`{"message":{"role":"assistant","content":"The"},"done":false}`,
		`{"message":{"role":"assistant","content":" answer is "},"done":false}`,
		`{"message":{"role":"assistant","content":"4"},"done":false}`,
		`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":4}`,
	)
	chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), body, 11)
	require.Empty(t, errs)
	require.Len(t, chunks, 5)
	assert.Equal(t, api.ContentChunk("The"), chunks[0])
	assert.Equal(t, api.ContentChunk(" answer is "), chunks[1])
	assert.Equal(t, api.ContentChunk("4"), chunks[2])
	assert.Equal(t, 7, chunks[3].Usage.TotalTokens)
	assert.Equal(t, api.FinishChunk(api.FinishStop), chunks[4])
}

func TestDuplicateToolCallIDs(t *testing.T) {
	body := `{"model":"qwen3","message":{"role":"assistant","content":"","tool_calls":[` +
		`{"id":"call_1","function":{"name":"a","arguments":{"x":1}}},` +
		`{"id":"call_1","function":{"name":"b","arguments":{"y":2}}}` +
		`]},"done":true,"done_reason":"stop"}`
	_, err := Codec{}.DecodeResponse([]byte(body), endpoint)
	assert.Equal(t, api.KindUpstreamProtocolViolation, api.KindOf(err))

	stream := ndjson(
		`{"message":{"content":"","tool_calls":[{"id":"call_1","function":{"name":"a","arguments":{"x":1}}}]},"done":false}`,
		`{"message":{"content":"","tool_calls":[{"id":"call_1","function":{"name":"b","arguments":{"y":2}}}]},"done":false}`,
		`{"message":{"content":""},"done":true,"done_reason":"stop"}`,
	)
	chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), stream, 0)
	require.Len(t, errs, 1)
	assert.Equal(t, api.KindUpstreamProtocolViolation, api.KindOf(errs[0]))
	resp := codectest.Assemble(t, chunks)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, `{"x":1}`, resp.ToolCalls[0].Function.Arguments)
}

func TestStream_ThinkTags(t *testing.T) {
	ep := endpoint
	ep.Options = map[string]string{"split_think_tags": "true"}
	body := ndjson(
		`{"message":{"content":"<think>pl"},"done":false}`,
		`{"message":{"content":"an</think>ok"},"done":false}`,
		`{"message":{"content":""},"done":true,"done_reason":"length"}`,
	)
	chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(ep), body, 3)
	require.Empty(t, errs)
	resp := codectest.Assemble(t, chunks)
	assert.Equal(t, "plan", resp.Reasoning)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, api.FinishLength, resp.FinishReason)
}

func TestStream_ErrorLine(t *testing.T) {
	body := ndjson(
		`{"message":{"content":"a"},"done":false}`,
		`{"error":"model runner has unexpectedly stopped"}`,
	)
	chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), body, 0)
	assert.Len(t, chunks, 1)
	require.NotEmpty(t, errs)
	assert.Equal(t, api.KindProviderReportedFailure, api.KindOf(errs[0]))
}

func TestStream_MalformedLineThenRecovery(t *testing.T) {
	body := ndjson(
		`{"message":{"content":"a"},"done":false}`,
		`{"message":{"content":`,
		`{"message":{"content":"b"},"done":true}`,
	)
	chunks, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), body, 4)
	require.Len(t, errs, 1)
	assert.Equal(t, api.KindMalformedInput, api.KindOf(errs[0]))
	assert.Equal(t, "ab", codectest.Assemble(t, chunks).Content)
}

func TestStream_TruncatedBeforeDone(t *testing.T) {
	_, errs := codectest.Decode(t, Codec{}.NewStreamDecoder(endpoint), ndjson(`{"message":{"content":"a"},"done":false}`), 0)
	require.Len(t, errs, 1)
	assert.Equal(t, api.KindUpstreamProtocolViolation, api.KindOf(errs[0]))
}

func TestDecodeError(t *testing.T) {
	e := Codec{}.DecodeError(404, []byte(`{"error":"model \"llama9\" not found, try pulling it first"}`))
	assert.Equal(t, api.KindProviderReportedFailure, e.Kind)
	assert.Contains(t, e.Message, "not found")
	assert.False(t, e.Retryable())

	e = Codec{}.DecodeError(500, nil)
	assert.Equal(t, api.KindUnclassified, e.Kind)
	assert.Equal(t, 500, e.Status)
}
