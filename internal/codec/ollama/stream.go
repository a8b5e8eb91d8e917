package ollama

import (
	"encoding/json"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
)

func (Codec) NewStreamDecoder(ep codec.Endpoint) codec.StreamDecoder {
	h := &streamHandler{tools: codec.NewToolCalls(codec.ArgumentEncoding(ep))}
	if ep.BoolOption("split_think_tags") {
		h.think = codec.NewThinkSplitter()
	}
	return codec.NewDecoder(codec.NewNDJSONFramer(0), h)
}

// streamHandler reads one JSON object per line; the line with done=true
// carries the stop reason and token counts.
type streamHandler struct {
	tools *codec.ToolCalls
	think *codec.ThinkSplitter
	term  codec.Terminal
}

func (h *streamHandler) HandleEvent(ev codec.Event, emit func(api.Chunk)) error {
	var line chatResponse
	if err := json.Unmarshal(ev.Data, &line); err != nil {
		return api.MalformedInput("line", "malformed stream line", err)
	}
	if line.Error != "" {
		return api.ProviderFailure(0, "", "", line.Error)
	}

	var out []api.Chunk
	if m := line.Message; m != nil {
		if m.Thinking != "" {
			out = append(out, api.ReasoningChunk(m.Thinking))
		}
		out = append(out, h.text(m.Content)...)
		for _, tc := range m.ToolCalls {
			c, err := h.tools.Whole(tc.ID, tc.Function.Name, argsText(tc.Function.Arguments))
			if err != nil {
				return err
			}
			out = append(out, c)
		}
	}
	for _, c := range out {
		emit(c)
	}

	if !line.Done {
		return nil
	}
	if h.think != nil {
		content, reasoning := h.think.Flush()
		if reasoning != "" {
			emit(api.ReasoningChunk(reasoning))
		}
		if content != "" {
			emit(api.ContentChunk(content))
		}
	}
	h.term.SetUsage(line.usage())
	h.term.SetFinish(finishReason(line.DoneReason, h.tools.Count() > 0))
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
	if reasoning != "" {
		out = append(out, api.ReasoningChunk(reasoning))
	}
	if content != "" {
		out = append(out, api.ContentChunk(content))
	}
	return out
}

func (h *streamHandler) HandleEOF(emit func(api.Chunk)) error {
	return api.ProtocolViolation("stream ended before a done line")
}
