package api

import "strings"

// Accumulator folds streamed chunks, in arrival order, into the Response the
// equivalent non-streaming call would have produced.
type Accumulator struct {
	content   strings.Builder
	reasoning strings.Builder

	calls []*toolCallBuilder
	byID  map[string]*toolCallBuilder

	usage    *Usage
	finish   FinishReason
	finished bool
}

type toolCallBuilder struct {
	id       string
	name     string
	encoding ArgumentEncoding
	args     strings.Builder
}

func NewAccumulator() *Accumulator {
	return &Accumulator{byID: make(map[string]*toolCallBuilder)}
}

// Add folds one chunk. Chunks after the finish chunk, and tool deltas that
// introduce an id without naming the function or name an id twice, are
// protocol violations.
func (a *Accumulator) Add(c Chunk) error {
	if a.finished {
		return ProtocolViolation("chunk received after finish")
	}
	switch c.Kind {
	case ChunkContent:
		a.content.WriteString(c.Text)
	case ChunkReasoning:
		a.reasoning.WriteString(c.Text)
	case ChunkToolCall:
		if c.ToolCall == nil || c.ToolCall.ID == "" {
			return ProtocolViolation("tool call delta without id")
		}
		b, ok := a.byID[c.ToolCall.ID]
		if !ok {
			if c.ToolCall.Name == "" {
				return ProtocolViolation("tool call delta for unknown id " + c.ToolCall.ID)
			}
			b = &toolCallBuilder{id: c.ToolCall.ID, name: c.ToolCall.Name, encoding: c.ToolCall.Encoding}
			a.byID[b.id] = b
			a.calls = append(a.calls, b)
		} else if c.ToolCall.Name != "" {
			return ProtocolViolation("duplicate tool call id " + c.ToolCall.ID)
		}
		b.args.WriteString(c.ToolCall.Arguments)
	case ChunkUsage:
		if c.Usage != nil {
			u := *c.Usage
			a.usage = &u
		}
	case ChunkFinish:
		a.finish = c.FinishReason
		a.finished = true
	default:
		return ProtocolViolation("unknown chunk kind " + string(c.Kind))
	}
	return nil
}

func (a *Accumulator) Finished() bool { return a.finished }

// Response returns the assembled response. It is valid at any point but only
// complete once Finished reports true.
func (a *Accumulator) Response() *Response {
	resp := &Response{
		Content:      a.content.String(),
		Reasoning:    a.reasoning.String(),
		FinishReason: a.finish,
		Usage:        a.usage,
	}
	for _, b := range a.calls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:       b.id,
			Type:     "function",
			Function: FunctionCall{Name: b.name, Arguments: b.args.String(), Encoding: b.encoding},
		})
	}
	return resp
}
