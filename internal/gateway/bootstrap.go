package gateway

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/prism-gateway/internal/codec"
	"github.com/nulzo/prism-gateway/internal/config"
	"go.uber.org/zap"
)

var errNoBaseURL = errors.New("no base_url configured and the codec has no default")

// BootstrapProviders registers every enabled provider from configuration and
// returns how many made it in. Bad entries are logged and skipped.
func BootstrapProviders(registry *Registry, providers []config.ProviderConfig, log *zap.Logger) int {
	registered := 0
	validate := validator.New()

	for _, pCfg := range providers {
		if !pCfg.Enabled {
			continue
		}
		plog := log.With(zap.String("id", pCfg.ID), zap.String("type", pCfg.Type))

		if err := validate.Struct(&pCfg); err != nil {
			plog.Warn("Skipping provider with invalid configuration", zap.Error(err))
			continue
		}

		c, ok := codec.Lookup(pCfg.Type)
		if !ok {
			plog.Error("Unknown provider type", zap.Strings("known", codec.Names()))
			continue
		}

		p, err := NewProvider(c, pCfg)
		if err != nil {
			plog.Error("Failed to initialize provider", zap.Error(err))
			continue
		}

		// Keyless entries stay registered; callers may supply X-Provider-Key.
		if p.Endpoint.Credential == "" && c.Capabilities(p.Endpoint).RequiresCredential {
			plog.Warn("Provider has no api key configured; calls must carry a credential")
		}

		if err := registry.Add(p); err != nil {
			plog.Error("Failed to register provider", zap.Error(err))
			continue
		}

		plog.Info("Provider registered", zap.String("base_url", p.Endpoint.BaseURL), zap.Strings("models", p.Models))
		registered++
	}

	if registered == 0 {
		log.Warn("No providers were registered. API will not function correctly.")
	}

	return registered
}

// NewProvider builds a registry entry from one provider config.
func NewProvider(c codec.Codec, pCfg config.ProviderConfig) (*Provider, error) {
	baseURL := pCfg.BaseURL
	if baseURL == "" {
		baseURL = codec.DefaultBaseURL(c.Name())
	}
	if baseURL == "" {
		return nil, errNoBaseURL
	}

	return &Provider{
		ID:    pCfg.ID,
		Name:  pCfg.Name,
		Codec: c,
		Endpoint: codec.Endpoint{
			Provider:   pCfg.ID,
			BaseURL:    baseURL,
			Credential: pCfg.APIKey,
			AuthScheme: pCfg.AuthScheme,
			Options:    pCfg.Config,
			Header:     pCfg.Headers,
		},
		Timeout:     pCfg.TimeoutDuration(),
		IdleTimeout: pCfg.IdleTimeoutDuration(),
		Models:      pCfg.Models,
	}, nil
}
