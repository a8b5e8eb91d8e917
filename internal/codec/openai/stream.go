package openai

import (
	"bytes"
	"encoding/json"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/tidwall/gjson"
)

func (Codec) NewStreamDecoder(ep codec.Endpoint) codec.StreamDecoder {
	h := &streamHandler{tools: codec.NewToolCalls(codec.ArgumentEncoding(ep))}
	if ep.BoolOption("split_think_tags") {
		h.think = codec.NewThinkSplitter()
	}
	return codec.NewDecoder(codec.NewSSEFramer(0), h)
}

type streamHandler struct {
	tools *codec.ToolCalls
	term  codec.Terminal
	think *codec.ThinkSplitter
}

var done = []byte("[DONE]")

func (h *streamHandler) HandleEvent(ev codec.Event, emit func(api.Chunk)) error {
	data := bytes.TrimSpace(ev.Data)
	if bytes.Equal(data, done) {
		return h.finish(emit)
	}
	if !json.Valid(data) {
		return api.MalformedInput("data", "malformed stream event", nil)
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return codec.ParseErrorBody(int(e.Get("code").Int()), data, codec.DefaultErrorShape)
	}

	var chunk chatResponse
	if err := json.Unmarshal(data, &chunk); err != nil {
		return api.MalformedInput("data", "unexpected stream event shape", err)
	}
	h.term.SetUsage(chunk.Usage.canonical())

	// the canonical model has a single choice
	for _, ch := range chunk.Choices {
		if ch.Index != 0 || ch.Delta == nil {
			if ch.Index == 0 && ch.FinishReason != nil {
				h.term.SetFinish(finishReason(*ch.FinishReason))
			}
			continue
		}
		var out []api.Chunk
		if r := reasoningOf(ch.Delta); r != "" {
			out = append(out, api.ReasoningChunk(r))
		}
		if ch.Delta.Content != nil {
			out = append(out, h.text(*ch.Delta.Content)...)
		}
		for pos, tc := range ch.Delta.ToolCalls {
			idx := pos
			if tc.Index != nil {
				idx = *tc.Index
			}
			c, err := h.tools.Delta(idx, tc.ID, tc.Function.Name, tc.Function.text())
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		for _, c := range out {
			emit(c)
		}
		if ch.FinishReason != nil {
			h.term.SetFinish(finishReason(*ch.FinishReason))
		}
	}
	return nil
}

// HandleEOF accepts a finish reason without the [DONE] marker; several
// compatible servers close the stream right after the last chunk.
func (h *streamHandler) HandleEOF(emit func(api.Chunk)) error {
	return h.finish(emit)
}

func (h *streamHandler) finish(emit func(api.Chunk)) error {
	if !h.term.Pending() {
		return api.ProtocolViolation("stream ended without a finish reason")
	}
	if h.think != nil {
		content, reasoning := h.think.Flush()
		emitText(emit, content, reasoning)
	}
	return h.term.Flush(emit)
}

func (h *streamHandler) text(s string) []api.Chunk {
	if h.think == nil {
		if s == "" {
			return nil
		}
		return []api.Chunk{api.ContentChunk(s)}
	}
	var out []api.Chunk
	content, reasoning := h.think.Process(s)
	emitText(func(c api.Chunk) { out = append(out, c) }, content, reasoning)
	return out
}

func emitText(emit func(api.Chunk), content, reasoning string) {
	if reasoning != "" {
		emit(api.ReasoningChunk(reasoning))
	}
	if content != "" {
		emit(api.ContentChunk(content))
	}
}
