// Package gateway dispatches canonical requests to upstream providers and
// surfaces the result as a canonical response, a chunk stream or a
// classified error.
package gateway

import (
	"context"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/transport"
	"github.com/nulzo/prism-gateway/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/nulzo/prism-gateway/internal/gateway"

// Dispatcher runs encode, send and decode for one call at a time per
// invocation. It holds no per-call state; concurrent calls share only the
// read-only registry and the connection pool.
type Dispatcher struct {
	registry *Registry
	client   *transport.Client
	log      *zap.Logger
	tracer   trace.Tracer
}

func NewDispatcher(registry *Registry, client *transport.Client, log *zap.Logger) *Dispatcher {
	if client == nil {
		client = transport.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		client:   client,
		log:      log,
		tracer:   otel.Tracer(tracerName),
	}
}

// Providers lists what is registered, for an external selection policy.
func (d *Dispatcher) Providers() []ProviderInfo {
	list := d.registry.List()
	out := make([]ProviderInfo, 0, len(list))
	for _, p := range list {
		out = append(out, p.Info())
	}
	return out
}

func (d *Dispatcher) Capabilities(provider string) (codec.Capabilities, error) {
	p, ok := d.registry.Get(provider)
	if !ok {
		return codec.Capabilities{}, unknownProvider(provider)
	}
	return p.Codec.Capabilities(p.Endpoint), nil
}

func unknownProvider(id string) *api.Error {
	if id == "" {
		return api.MissingVariable("provider")
	}
	return api.UnsupportedOperation("provider " + id).WithProvider(id)
}

// prepare resolves the provider and encodes the request.
func (d *Dispatcher) prepare(c *call, target api.Target, req *api.ChatRequest, stream bool) (*transport.Request, codec.Endpoint, error) {
	p, ok := d.registry.Get(target.Provider)
	if !ok {
		return nil, codec.Endpoint{}, unknownProvider(target.Provider)
	}
	c.codec = p.Codec
	c.span.SetAttributes(codecAttr(p.Codec.Name()))

	c.to(StateEncoding)
	if req == nil {
		return nil, codec.Endpoint{}, api.MissingVariable("request")
	}
	ep := p.endpoint(target.Credential)
	out, err := p.Codec.EncodeRequest(req, ep, stream)
	if err != nil {
		return nil, ep, err
	}
	if out.Timeout == 0 {
		out.Timeout = p.Timeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = p.IdleTimeout
	}
	return out, ep, nil
}

// Complete performs a non-streaming call and returns the whole response.
func (d *Dispatcher) Complete(ctx context.Context, target api.Target, req *api.ChatRequest) (*api.Response, error) {
	return d.complete(ctx, target, req, nil)
}

func (d *Dispatcher) complete(ctx context.Context, target api.Target, req *api.ChatRequest, onDone func(Outcome)) (*api.Response, error) {
	ctx, c := d.newCall(ctx, target, modelOf(req), false)
	c.onDone = onDone

	out, ep, err := d.prepare(c, target, req, false)
	if err != nil {
		return nil, c.fail(err)
	}

	c.to(StateSending)
	raw, err := d.client.Do(ctx, out)
	if err != nil {
		return nil, c.fail(err)
	}

	c.to(StateReceiving)
	resp, err := c.codec.DecodeResponse(raw.Body, ep)
	if err != nil {
		return nil, c.fail(err)
	}
	if resp.FinishReason == "" {
		return nil, c.fail(api.ProtocolViolation("response has no finish reason"))
	}
	c.complete(resp.FinishReason, resp.Usage)
	return resp, nil
}

// Stream starts a streaming call. Failures before the upstream accepted the
// request are returned here; later ones surface from Stream.Recv.
func (d *Dispatcher) Stream(ctx context.Context, target api.Target, req *api.ChatRequest) (*Stream, error) {
	return d.stream(ctx, target, req, nil)
}

func (d *Dispatcher) stream(ctx context.Context, target api.Target, req *api.ChatRequest, onDone func(Outcome)) (*Stream, error) {
	ctx, c := d.newCall(ctx, target, modelOf(req), true)
	c.onDone = onDone

	out, ep, err := d.prepare(c, target, req, true)
	if err != nil {
		return nil, c.fail(err)
	}

	c.to(StateSending)
	frames, err := d.client.Open(ctx, out)
	if err != nil {
		return nil, c.fail(err)
	}

	c.to(StateReceiving)
	return newStream(ctx, c, frames, c.codec.NewStreamDecoder(ep)), nil
}

func modelOf(req *api.ChatRequest) string {
	if req == nil {
		return ""
	}
	return req.Model
}
