package codec

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nulzo/prism-gateway/pkg/api"
)

// NewToolCallID generates an id for providers that omit one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ToolCalls tracks streamed tool calls by the provider's slot index so every
// emitted delta carries a stable id, generated when the wire has none.
type ToolCalls struct {
	// Encoding tags the first delta of every call, see ArgumentEncoding.
	Encoding api.ArgumentEncoding

	byIndex map[int]*toolSlot
	ids     map[string]struct{}
	count   int
}

type toolSlot struct {
	index int
	id    string
}

func NewToolCalls(enc api.ArgumentEncoding) *ToolCalls {
	return &ToolCalls{Encoding: enc, byIndex: make(map[int]*toolSlot), ids: make(map[string]struct{})}
}

// Delta records one fragment. The first fragment for an index must name the
// function; later fragments only append arguments.
func (t *ToolCalls) Delta(index int, id, name, args string) (api.Chunk, error) {
	slot, ok := t.byIndex[index]
	if !ok {
		if name == "" {
			return api.Chunk{}, api.ProtocolViolation(fmt.Sprintf("tool call %d started without a function name", index))
		}
		if id == "" {
			id = NewToolCallID()
		}
		if _, dup := t.ids[id]; dup {
			return api.Chunk{}, duplicateToolCallID(id)
		}
		t.ids[id] = struct{}{}
		slot = &toolSlot{index: t.count, id: id}
		t.byIndex[index] = slot
		t.count++
		return api.ToolCallChunk(api.ToolCallDelta{Index: slot.index, ID: slot.id, Name: name, Arguments: args, Encoding: t.Encoding}), nil
	}
	return api.ToolCallChunk(api.ToolCallDelta{Index: slot.index, ID: slot.id, Arguments: args}), nil
}

// Whole records a tool call that arrives complete in one event.
func (t *ToolCalls) Whole(id, name, args string) (api.Chunk, error) {
	return t.Delta(-1-t.count, id, name, args)
}

// Count is the number of distinct tool calls seen.
func (t *ToolCalls) Count() int { return t.count }

// CheckToolCallIDs rejects a decoded response that reuses a tool call id.
func CheckToolCallIDs(calls []api.ToolCall) error {
	seen := make(map[string]struct{}, len(calls))
	for _, tc := range calls {
		if _, dup := seen[tc.ID]; dup {
			return duplicateToolCallID(tc.ID)
		}
		seen[tc.ID] = struct{}{}
	}
	return nil
}

func duplicateToolCallID(id string) *api.Error {
	return api.ProtocolViolation("duplicate tool call id " + id)
}
