package gateway

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nulzo/prism-gateway/internal/codec"
)

// Provider is one configured upstream: a codec plus the endpoint it is
// encoded for. The configured credential lives in Endpoint and is replaced
// by a per-call credential when the target carries one.
type Provider struct {
	ID          string
	Name        string
	Codec       codec.Codec
	Endpoint    codec.Endpoint
	Timeout     time.Duration
	IdleTimeout time.Duration
	Models      []string
}

func (p *Provider) endpoint(credential string) codec.Endpoint {
	ep := p.Endpoint
	if credential != "" {
		ep.Credential = credential
	}
	return ep
}

func (p *Provider) serves(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// ProviderInfo is the public, credential-free view of a provider that a
// selection policy can branch on.
type ProviderInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	Models       []string           `json:"models,omitempty"`
	Capabilities codec.Capabilities `json:"capabilities"`
}

func (p *Provider) Info() ProviderInfo {
	return ProviderInfo{
		ID:           p.ID,
		Name:         p.Name,
		Type:         p.Codec.Name(),
		Models:       p.Models,
		Capabilities: p.Codec.Capabilities(p.Endpoint),
	}
}

// Registry holds the providers known to a dispatcher.
// It is thread-safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

func (r *Registry) Add(p *Provider) error {
	if p.ID == "" || p.Codec == nil {
		return fmt.Errorf("provider needs an id and a codec")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.ID]; exists {
		return fmt.Errorf("provider %q already registered", p.ID)
	}
	r.providers[p.ID] = p
	return nil
}

func (r *Registry) Get(id string) (*Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns the providers sorted by id.
func (r *Registry) List() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
