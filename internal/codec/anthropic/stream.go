package anthropic

import (
	"encoding/json"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
)

func (Codec) NewStreamDecoder(ep codec.Endpoint) codec.StreamDecoder {
	return codec.NewDecoder(codec.NewSSEFramer(0), &streamHandler{
		tools:     codec.NewToolCalls(codec.ArgumentEncoding(ep)),
		toolBlock: make(map[int]bool),
	})
}

// streamHandler follows the message_start, content_block_*, message_delta,
// message_stop event sequence.
type streamHandler struct {
	tools *codec.ToolCalls
	// toolBlock maps an open tool_use block index to whether it received input
	toolBlock map[int]bool
	usage     api.Usage
	term      codec.Terminal
}

func (h *streamHandler) HandleEvent(ev codec.Event, emit func(api.Chunk)) error {
	var e streamEvent
	if err := json.Unmarshal(ev.Data, &e); err != nil {
		return api.MalformedInput("data", "malformed stream event", err)
	}
	if e.Type == "" {
		e.Type = ev.Name
	}

	switch e.Type {
	case "message_start":
		if e.Message != nil {
			h.usage.PromptTokens = e.Message.Usage.InputTokens
			h.usage.CachedTokens = e.Message.Usage.CacheReadInputTokens
			h.usage.CompletionTokens = e.Message.Usage.OutputTokens
		}
	case "content_block_start":
		b := e.ContentBlock
		if b == nil {
			return api.ProtocolViolation("content_block_start without a block")
		}
		switch b.Type {
		case "text":
			if b.Text != "" {
				emit(api.ContentChunk(b.Text))
			}
		case "thinking":
			if b.Thinking != "" {
				emit(api.ReasoningChunk(b.Thinking))
			}
		case "tool_use":
			c, err := h.tools.Delta(e.Index, b.ID, b.Name, "")
			if err != nil {
				return err
			}
			h.toolBlock[e.Index] = false
			emit(c)
		}
	case "content_block_delta":
		d := e.Delta
		if d == nil {
			return api.ProtocolViolation("content_block_delta without a delta")
		}
		switch d.Type {
		case "text_delta":
			emit(api.ContentChunk(d.Text))
		case "thinking_delta":
			emit(api.ReasoningChunk(d.Thinking))
		case "input_json_delta":
			if d.PartialJSON == "" {
				return nil
			}
			c, err := h.tools.Delta(e.Index, "", "", d.PartialJSON)
			if err != nil {
				return err
			}
			h.toolBlock[e.Index] = true
			emit(c)
		}
	case "content_block_stop":
		// a tool called without arguments streams no input_json_delta at all
		if hasInput, ok := h.toolBlock[e.Index]; ok && !hasInput {
			c, err := h.tools.Delta(e.Index, "", "", "{}")
			if err != nil {
				return err
			}
			emit(c)
		}
		delete(h.toolBlock, e.Index)
	case "message_delta":
		if e.Delta != nil {
			h.term.SetFinish(finishReason(e.Delta.StopReason))
		}
		if e.Usage != nil {
			h.usage.CompletionTokens = e.Usage.OutputTokens
		}
	case "message_stop":
		u := h.usage
		h.term.SetUsage(&u)
		return h.term.Flush(emit)
	case "ping":
	case "error":
		return codec.ParseErrorBody(0, ev.Data, errorShape)
	}
	return nil
}

func (h *streamHandler) HandleEOF(emit func(api.Chunk)) error {
	return api.ProtocolViolation("stream ended before message_stop")
}
