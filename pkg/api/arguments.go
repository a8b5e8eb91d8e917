package api

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

type ArgumentEncoding string

const (
	// ArgumentsJSON means Arguments holds raw JSON text (the default).
	ArgumentsJSON ArgumentEncoding = ""
	// ArgumentsBase64 means Arguments holds base64 encoded JSON text.
	ArgumentsBase64 ArgumentEncoding = "base64"
)

// FunctionCall carries the tool arguments as an opaque payload. Nothing is
// decoded until a caller asks for it, and decoding never rewrites the payload.
type FunctionCall struct {
	Name      string           `json:"name"`
	Arguments string           `json:"arguments"`
	Encoding  ArgumentEncoding `json:"arguments_encoding,omitempty"`
}

// DecodeArguments returns the argument bytes with any transfer encoding
// removed. Invalid base64 yields a MalformedInput error naming the field.
func (f FunctionCall) DecodeArguments() ([]byte, error) {
	switch f.Encoding {
	case ArgumentsJSON:
		return []byte(f.Arguments), nil
	case ArgumentsBase64:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(f.Arguments))
		if err != nil {
			return nil, MalformedInput("function.arguments", "invalid base64 tool-call arguments", err)
		}
		return b, nil
	default:
		return nil, UnsupportedOperation("arguments encoding " + string(f.Encoding))
	}
}

// JSONArguments decodes the payload and checks that it is a JSON document.
// An empty payload is treated as an empty object.
func (f FunctionCall) JSONArguments() (json.RawMessage, error) {
	b, err := f.DecodeArguments()
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(b) {
		return nil, MalformedInput("function.arguments", "tool-call arguments are not valid JSON", nil)
	}
	return json.RawMessage(b), nil
}

// DecodeArgumentsInto decodes the payload into v.
func (f FunctionCall) DecodeArgumentsInto(v interface{}) error {
	b, err := f.JSONArguments()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return MalformedInput("function.arguments", "tool-call arguments do not match target type", err)
	}
	return nil
}
