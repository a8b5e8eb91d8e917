package redis

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/nulzo/prism-gateway/internal/usage"
	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server only when REDIS_ADDR is set.
func TestSink_Write(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	stream := "prism:usage:test:" + t.Name()

	sink, err := Dial(ctx, addr, "", 0, stream)
	require.NoError(t, err)
	defer sink.Close()
	defer sink.client.Del(ctx, stream)

	r := usage.NewRecord("openai", "gpt-4o", false, api.FinishStop, &api.Usage{TotalTokens: 9}, nil)
	require.NoError(t, sink.Write(ctx, []*usage.Record{r}))

	entries, err := sink.client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, r.ID, entries[0].Values["id"])

	var got usage.Record
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["record"].(string)), &got))
	assert.Equal(t, 9, got.TotalTokens)
}

func TestSink_EntryCapsStream(t *testing.T) {
	r := usage.NewRecord("anthropic", "claude", true, api.FinishStop, nil, nil)

	capped := New(nil, "prism:usage")
	capped.MaxLen = 1000
	args, err := capped.entry(r)
	require.NoError(t, err)
	assert.Equal(t, "prism:usage", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, r.ID, args.Values.(map[string]any)["id"])

	args, err = New(nil, "prism:usage").entry(r)
	require.NoError(t, err)
	assert.Zero(t, args.MaxLen)
	assert.False(t, args.Approx)
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", "", 0, "s")
	assert.Error(t, err)
}
