package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// colorConsoleEncoding is the encoder name registered with zap for console
// output with highlighted structured fields.
const colorConsoleEncoding = "console-color"

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
	ansiPurple = "\033[35m"
)

// Keys (quoted strings followed by a colon), string values, literals and numbers.
var jsonTokenRegex = regexp.MustCompile(`("(\\u[a-zA-Z0-9]{4}|\\[^u]|[^\\"])*"(\s*:)?|\b(true|false|null)\b|-?\d+(?:\.\d*)?(?:[eE][+\-]?\d+)?)`)

var bufferPool = buffer.NewPool()

func init() {
	_ = zap.RegisterEncoder(colorConsoleEncoding, func(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
		return NewColoredConsoleEncoder(cfg), nil
	})
}

// coloredConsoleEncoder wraps zap's console encoder and colors the JSON
// field blob it appends after the message.
type coloredConsoleEncoder struct {
	zapcore.Encoder
}

func NewColoredConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &coloredConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (c *coloredConsoleEncoder) Clone() zapcore.Encoder {
	return &coloredConsoleEncoder{Encoder: c.Encoder.Clone()}
}

func (c *coloredConsoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}

	// The console encoder separates the fields blob from the header with a tab.
	line := buf.String()
	splitIdx := strings.Index(line, "\t{")
	if splitIdx == -1 {
		return buf, nil
	}

	out := bufferPool.Get()
	out.AppendString(line[:splitIdx+1])
	out.AppendString(HighlightJSON(line[splitIdx+1:]))
	buf.Free()
	return out, nil
}

// HighlightJSON applies ANSI colors to a JSON document.
func HighlightJSON(s string) string {
	return jsonTokenRegex.ReplaceAllStringFunc(s, func(token string) string {
		switch {
		case strings.HasSuffix(token, ":"):
			return ansiBlue + token[:len(token)-1] + ansiReset + ":"
		case strings.HasPrefix(token, `"`):
			return ansiGreen + token + ansiReset
		case token == "true" || token == "false":
			return ansiYellow + token + ansiReset
		case token == "null":
			return ansiDim + token + ansiReset
		default:
			return ansiPurple + token + ansiReset
		}
	})
}
