package gateway

import (
	"context"
	"strings"

	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/usage"
	"github.com/nulzo/prism-gateway/pkg/api"
	"go.uber.org/zap"
)

// Service is what the HTTP layer talks to. It picks the provider for a
// request, delegates to the Dispatcher and records usage for every call.
type Service interface {
	Chat(ctx context.Context, target api.Target, req *api.ChatRequest) (*api.Response, error)
	StreamChat(ctx context.Context, target api.Target, req *api.ChatRequest) (*Stream, error)
	Providers() []ProviderInfo
	Capabilities(provider string) (codec.Capabilities, error)
}

type service struct {
	logger     *zap.Logger
	registry   *Registry
	dispatcher *Dispatcher
	recorder   usage.Recorder
}

func NewService(logger *zap.Logger, registry *Registry, dispatcher *Dispatcher, recorder usage.Recorder) Service {
	if recorder == nil {
		recorder = usage.Discard{}
	}
	return &service{
		logger:     logger,
		registry:   registry,
		dispatcher: dispatcher,
		recorder:   recorder,
	}
}

func (s *service) Chat(ctx context.Context, target api.Target, req *api.ChatRequest) (*api.Response, error) {
	target, req, err := s.resolve(target, req)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.complete(ctx, target, req, s.record)
}

func (s *service) StreamChat(ctx context.Context, target api.Target, req *api.ChatRequest) (*Stream, error) {
	target, req, err := s.resolve(target, req)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.stream(ctx, target, req, s.record)
}

func (s *service) Providers() []ProviderInfo { return s.dispatcher.Providers() }

func (s *service) Capabilities(provider string) (codec.Capabilities, error) {
	return s.dispatcher.Capabilities(provider)
}

// resolve fills target.Provider when the caller left it empty. In order: a
// "provider/model" prefix naming a registered provider, a provider that
// lists the model, or the only registered provider.
func (s *service) resolve(target api.Target, req *api.ChatRequest) (api.Target, *api.ChatRequest, error) {
	if req == nil {
		return target, nil, api.MissingVariable("request")
	}

	if prefix, rest, ok := strings.Cut(req.Model, "/"); ok && rest != "" {
		if _, known := s.registry.Get(prefix); known && (target.Provider == "" || target.Provider == prefix) {
			clone := *req
			clone.Model = rest
			req = &clone
			target.Provider = prefix
		}
	}
	if target.Provider != "" {
		return target, req, nil
	}

	providers := s.registry.List()
	for _, p := range providers {
		if p.serves(req.Model) {
			target.Provider = p.ID
			return target, req, nil
		}
	}
	if len(providers) == 1 {
		target.Provider = providers[0].ID
		return target, req, nil
	}

	s.logger.Debug("No provider resolved for model", zap.String("model", req.Model))
	return target, req, api.MissingVariable("provider")
}

func (s *service) record(o Outcome) {
	r := usage.NewRecord(o.Provider, o.Model, o.Streamed, o.FinishReason, o.Usage, o.Err)
	r.LatencyMS = o.Latency.Milliseconds()
	r.TTFTMS = o.TTFT.Milliseconds()
	s.recorder.Record(r)
}
