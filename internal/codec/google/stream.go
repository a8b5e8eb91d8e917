package google

import (
	"encoding/json"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/tidwall/gjson"
)

func (Codec) NewStreamDecoder(ep codec.Endpoint) codec.StreamDecoder {
	return codec.NewDecoder(codec.NewSSEFramer(0), &streamHandler{
		tools: codec.NewToolCalls(codec.ArgumentEncoding(ep)),
	})
}

// streamHandler reads alt=sse output: every event is a partial response.
// Function calls arrive whole, usageMetadata is cumulative, and there is no
// end marker, so finish is emitted when the body ends.
type streamHandler struct {
	tools  *codec.ToolCalls
	reason string
	term   codec.Terminal
}

func (h *streamHandler) HandleEvent(ev codec.Event, emit func(api.Chunk)) error {
	if e := gjson.GetBytes(ev.Data, "error"); e.Exists() {
		return codec.ParseErrorBody(int(e.Get("code").Int()), ev.Data, errorShape)
	}
	var wire response
	if err := json.Unmarshal(ev.Data, &wire); err != nil {
		return api.MalformedInput("data", "malformed stream event", err)
	}

	var out []api.Chunk
	if len(wire.Candidates) > 0 {
		cand := wire.Candidates[0]
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				c, err := h.tools.Whole(p.FunctionCall.ID, p.FunctionCall.Name, argsText(p.FunctionCall.Args))
				if err != nil {
					return err
				}
				out = append(out, c)
			case p.Thought:
				if p.Text != "" {
					out = append(out, api.ReasoningChunk(p.Text))
				}
			case p.Text != "":
				out = append(out, api.ContentChunk(p.Text))
			}
		}
		if cand.FinishReason != "" {
			h.reason = cand.FinishReason
		}
	} else if pf := wire.PromptFeedback; pf != nil && pf.BlockReason != "" {
		h.term.SetFinish(api.FinishContentFilter)
	}

	for _, c := range out {
		emit(c)
	}
	h.term.SetUsage(wire.UsageMetadata.canonical())
	return nil
}

func (h *streamHandler) HandleEOF(emit func(api.Chunk)) error {
	h.term.SetFinish(finishReason(h.reason, h.tools.Count() > 0))
	return h.term.Flush(emit)
}
