package gateway

import (
	"context"
	"time"

	"github.com/nulzo/prism-gateway/internal/classify"
	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/pkg/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the lifecycle of one dispatched call. Completed and Failed are
// terminal; a call never leaves them.
type State int

const (
	StateIdle State = iota
	StateEncoding
	StateSending
	StateReceiving
	StateCompleted
	StateFailed
)

var stateNames = [...]string{"idle", "encoding", "sending", "receiving", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Outcome summarizes a finished call for usage accounting.
type Outcome struct {
	Provider     string
	Model        string
	Streamed     bool
	FinishReason api.FinishReason
	Usage        *api.Usage
	Err          *api.Error
	Started      time.Time
	Latency      time.Duration
	// TTFT is the delay to the first chunk of a streamed call.
	TTFT time.Duration
}

// call drives the state machine for one request and owns its span.
type call struct {
	state State
	codec codec.Codec
	log   *zap.Logger
	span  trace.Span

	outcome Outcome
	onDone  func(Outcome)
}

func (d *Dispatcher) newCall(ctx context.Context, target api.Target, model string, stream bool) (context.Context, *call) {
	ctx, span := d.tracer.Start(ctx, "gateway.dispatch", trace.WithAttributes(
		attribute.String("gen_ai.provider", target.Provider),
		attribute.String("gen_ai.request.model", model),
		attribute.Bool("gen_ai.request.stream", stream),
	))
	return ctx, &call{
		log:  d.log.With(zap.String("provider", target.Provider), zap.String("model", model), zap.Bool("stream", stream)),
		span: span,
		outcome: Outcome{
			Provider: target.Provider,
			Model:    model,
			Streamed: stream,
			Started:  time.Now(),
		},
	}
}

func (c *call) to(next State) {
	if c.state.Terminal() {
		return
	}
	c.log.Debug("call state", zap.Stringer("from", c.state), zap.Stringer("to", next))
	c.state = next
}

// fail classifies err, moves the call to Failed and returns the canonical
// error. Only the first failure of a call is recorded.
func (c *call) fail(err error) *api.Error {
	e := classify.Error(err, c.outcome.Provider, c.codec)
	if c.state.Terminal() {
		return e
	}
	c.to(StateFailed)
	c.outcome.Err = e

	c.log.Warn("call failed",
		zap.Stringer("kind", e.Kind),
		zap.Int("provider_status", e.Status),
		zap.String("provider_code", e.Code),
		zap.Bool("retryable", e.Retryable()),
		zap.Error(e),
	)
	c.span.SetAttributes(attribute.String("prism.error.kind", e.Kind.String()))
	c.span.RecordError(e)
	c.span.SetStatus(codes.Error, e.Kind.String())
	c.end()
	return e
}

func (c *call) complete(finish api.FinishReason, usage *api.Usage) {
	if c.state.Terminal() {
		return
	}
	c.to(StateCompleted)
	c.outcome.FinishReason = finish
	c.outcome.Usage = usage
	c.span.SetAttributes(attribute.String("gen_ai.response.finish_reason", string(finish)))
	if usage != nil {
		c.span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", usage.PromptTokens),
			attribute.Int("gen_ai.usage.output_tokens", usage.CompletionTokens),
		)
	}
	c.end()
}

func (c *call) end() {
	c.outcome.Latency = time.Since(c.outcome.Started)
	c.span.End()
	if c.onDone != nil {
		c.onDone(c.outcome)
	}
}

func codecAttr(name string) attribute.KeyValue {
	return attribute.String("prism.codec", name)
}
