package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nulzo/prism-gateway/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]*Record
	closed  bool
}

func (m *memorySink) Write(_ context.Context, batch []*Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]*Record(nil), batch...))
	return nil
}

func (m *memorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestIngestor_FlushesFullBatches(t *testing.T) {
	sink := &memorySink{}
	ing := NewIngestor(zap.NewNop(), sink, 2, time.Hour)
	ing.Start(context.Background())

	for i := 0; i < 4; i++ {
		ing.Record(NewRecord("openai", "gpt-4o", false, api.FinishStop, nil, nil))
	}

	require.Eventually(t, func() bool { return sink.count() == 4 }, time.Second, 5*time.Millisecond)
	ing.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.batches, 2)
	assert.True(t, sink.closed)
}

func TestIngestor_StopDrainsPartialBatch(t *testing.T) {
	sink := &memorySink{}
	ing := NewIngestor(zap.NewNop(), sink, 50, time.Hour)
	ing.Start(context.Background())

	ing.Record(NewRecord("anthropic", "claude", true, api.FinishLength, nil, nil))
	ing.Stop()
	ing.Stop()

	assert.Equal(t, 1, sink.count())
}

func TestIngestor_RecordAfterStopIsDropped(t *testing.T) {
	sink := &memorySink{}
	ing := NewIngestor(zap.NewNop(), sink, 50, time.Hour)
	ing.Start(context.Background())
	ing.Stop()

	assert.NotPanics(t, func() {
		ing.Record(NewRecord("openai", "gpt-4o", true, api.FinishStop, nil, nil))
	})
	assert.Zero(t, sink.count())
}

func TestIngestor_ConcurrentRecordAndStop(t *testing.T) {
	sink := &memorySink{}
	ing := NewIngestor(zap.NewNop(), sink, 10, time.Hour)
	ing.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ing.Record(NewRecord("openai", "gpt-4o", false, api.FinishStop, nil, nil))
			}
		}()
	}
	ing.Stop()
	wg.Wait()

	assert.LessOrEqual(t, sink.count(), 800)
}

func TestIngestor_TickerFlush(t *testing.T) {
	sink := &memorySink{}
	ing := NewIngestor(zap.NewNop(), sink, 50, 10*time.Millisecond)
	ing.Start(context.Background())
	defer ing.Stop()

	ing.Record(NewRecord("google", "gemini", false, api.FinishStop, nil, nil))
	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewRecord(t *testing.T) {
	u := &api.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, ReasoningTokens: 2}
	r := NewRecord("openai", "gpt-4o", true, api.FinishToolCalls, u, nil)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "tool_calls", r.FinishReason)
	assert.Equal(t, 15, r.TotalTokens)
	assert.Equal(t, 2, r.ReasoningTokens)
	assert.Empty(t, r.ErrorKind)

	failed := NewRecord("openai", "gpt-4o", false, "", nil, api.ProviderFailure(429, "rate_limit_exceeded", "", "slow down"))
	assert.Equal(t, api.KindProviderReportedFailure.String(), failed.ErrorKind)
	assert.Equal(t, 429, failed.ProviderStatus)
	assert.Zero(t, failed.PromptTokens)
}
