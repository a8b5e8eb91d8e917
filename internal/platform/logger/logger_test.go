package logger

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestHighlightJSON(t *testing.T) {
	out := HighlightJSON(`{"kind":"usage","tokens":12,"retryable":false,"field":null}`)
	assert.Contains(t, out, ansiBlue+`"kind"`+ansiReset+":")
	assert.Contains(t, out, ansiGreen+`"usage"`+ansiReset)
	assert.Contains(t, out, ansiPurple+"12"+ansiReset)
	assert.Contains(t, out, ansiYellow+"false"+ansiReset)
	assert.Contains(t, out, ansiDim+"null"+ansiReset)
}

func TestColoredConsoleEncoder(t *testing.T) {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	enc := NewColoredConsoleEncoder(cfg)

	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "call failed", Time: time.Now()},
		[]zapcore.Field{zap.String("provider", "openai")})
	require.NoError(t, err)
	line := buf.String()
	assert.True(t, strings.HasPrefix(line, "INFO\tcall failed\t{"), line)
	assert.Contains(t, line, ansiGreen+`"openai"`+ansiReset)

	plain, err := enc.Clone().EncodeEntry(zapcore.Entry{Level: zapcore.InfoLevel, Message: "bare"}, nil)
	require.NoError(t, err)
	assert.NotContains(t, plain.String(), "\033[")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("chatty"))
}

func TestShouldEnableColor(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	require.NoError(t, os.Unsetenv("NO_COLOR"))

	t.Setenv("LOG_COLOR", "0")
	assert.False(t, shouldEnableColor())
	t.Setenv("LOG_COLOR", "true")
	assert.True(t, shouldEnableColor())
}
