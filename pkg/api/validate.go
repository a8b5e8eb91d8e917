package api

import "fmt"

// Validate checks the structural invariants every codec relies on. It never
// panics; the first violation is returned as a MissingVariable or
// MalformedInput error naming the offending field.
func Validate(req *ChatRequest) error {
	if req == nil {
		return MissingVariable("request")
	}
	if req.Model == "" {
		return MissingVariable("model")
	}
	if len(req.Messages) == 0 {
		return MissingVariable("messages")
	}

	declared := make(map[string]bool, len(req.Tools))
	for i, t := range req.Tools {
		if t.Function.Name == "" {
			return MissingVariable(fmt.Sprintf("tools[%d].function.name", i))
		}
		if t.Type != "" && t.Type != "function" {
			return MalformedInput(fmt.Sprintf("tools[%d].type", i), "unknown tool type "+t.Type, nil)
		}
		declared[t.Function.Name] = true
	}
	if tc := req.ToolChoice; tc != nil {
		switch tc.Mode {
		case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		case ToolChoiceFunction:
			if !declared[tc.Function] {
				return MalformedInput("tool_choice", "tool_choice names undeclared function "+tc.Function, nil)
			}
		default:
			return MalformedInput("tool_choice", "unknown tool_choice "+string(tc.Mode), nil)
		}
	}

	seen := make(map[string]bool)
	for i, m := range req.Messages {
		path := fmt.Sprintf("messages[%d]", i)
		if !m.Role.Valid() {
			return MalformedInput(path+".role", "unknown role "+string(m.Role), nil)
		}
		if err := validateParts(path, m.Content); err != nil {
			return err
		}

		if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
			return MalformedInput(path+".tool_calls", "only assistant messages may carry tool calls", nil)
		}
		inMessage := make(map[string]bool, len(m.ToolCalls))
		for j, tc := range m.ToolCalls {
			cp := fmt.Sprintf("%s.tool_calls[%d]", path, j)
			if tc.ID == "" {
				return MissingVariable(cp + ".id")
			}
			if inMessage[tc.ID] {
				return MalformedInput(cp+".id", "duplicate tool call id "+tc.ID, nil)
			}
			inMessage[tc.ID] = true
			if tc.Function.Name == "" {
				return MissingVariable(cp + ".function.name")
			}
			if _, err := tc.Function.DecodeArguments(); err != nil {
				if e, ok := AsError(err); ok {
					e.Field = ""
					return e.WithField(cp + ".function.arguments")
				}
				return err
			}
		}
		for id := range inMessage {
			seen[id] = true
		}

		if m.Role == RoleTool {
			if m.ToolCallID == "" {
				return MissingVariable(path + ".tool_call_id")
			}
			if !seen[m.ToolCallID] {
				return MalformedInput(path+".tool_call_id", "tool result references unknown tool call id "+m.ToolCallID, nil)
			}
		}
	}
	return nil
}

func validateParts(path string, c Content) error {
	for k, p := range c.Parts {
		pp := fmt.Sprintf("%s.content[%d]", path, k)
		switch p.Type {
		case PartText:
		case PartImage:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return MissingVariable(pp + ".image_url.url")
			}
		default:
			return MalformedInput(pp+".type", "unknown content part type "+p.Type, nil)
		}
	}
	return nil
}

// ToolCallNames maps every tool call id issued in the conversation to its
// function name. Providers that match results by name need this.
func ToolCallNames(msgs []Message) map[string]string {
	names := make(map[string]string)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			names[tc.ID] = tc.Function.Name
		}
	}
	return names
}
