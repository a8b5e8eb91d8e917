// Package usage records one row per dispatched call: who served it, how
// many tokens it used, how long it took and how it ended.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/prism-gateway/pkg/api"
)

type Record struct {
	ID               string    `db:"id" json:"id"`
	Provider         string    `db:"provider" json:"provider"`
	Model            string    `db:"model" json:"model"`
	Streamed         bool      `db:"streamed" json:"streamed"`
	FinishReason     string    `db:"finish_reason" json:"finish_reason,omitempty"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens" json:"total_tokens"`
	ReasoningTokens  int       `db:"reasoning_tokens" json:"reasoning_tokens"`
	LatencyMS        int64     `db:"latency_ms" json:"latency_ms"`
	TTFTMS           int64     `db:"ttft_ms" json:"ttft_ms,omitempty"`
	ErrorKind        string    `db:"error_kind" json:"error_kind,omitempty"`
	ProviderStatus   int       `db:"provider_status" json:"provider_status,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// NewRecord fills the bookkeeping fields. Usage and err may be nil.
func NewRecord(provider, model string, streamed bool, finish api.FinishReason, u *api.Usage, err *api.Error) *Record {
	r := &Record{
		ID:           uuid.NewString(),
		Provider:     provider,
		Model:        model,
		Streamed:     streamed,
		FinishReason: string(finish),
		CreatedAt:    time.Now().UTC(),
	}
	if u != nil {
		r.PromptTokens = u.PromptTokens
		r.CompletionTokens = u.CompletionTokens
		r.TotalTokens = u.TotalTokens
		r.ReasoningTokens = u.ReasoningTokens
	}
	if err != nil {
		r.ErrorKind = err.Kind.String()
		r.ProviderStatus = err.Status
	}
	return r
}

// Recorder accepts records without blocking the caller.
type Recorder interface {
	Record(r *Record)
}

// Sink persists a batch of records.
type Sink interface {
	Write(ctx context.Context, batch []*Record) error
	Close() error
}

// Discard drops every record.
type Discard struct{}

func (Discard) Record(*Record) {}
