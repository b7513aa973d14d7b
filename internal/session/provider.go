package session

import (
	"fmt"
	"sync"

	"github.com/Zereker/docstore/pkg/document"
)

// StoreProvider returns the durable document store of a tenant.
type StoreProvider interface {
	Store(tenant string) (document.Store, error)
	DefaultTenant() string
}

// Provider hands out one Store per tenant. Each tenant gets its own cache
// namespace from cacheFor and its own durable store, so keys never collide
// across tenants.
type Provider struct {
	stores   StoreProvider
	cacheFor func(tenant string) Cache
	opts     []Option

	mu       sync.Mutex
	sessions map[string]*Store
}

// NewProvider creates a provider. cacheFor is called once per tenant.
func NewProvider(stores StoreProvider, cacheFor func(tenant string) Cache, opts ...Option) *Provider {
	return &Provider{
		stores:   stores,
		cacheFor: cacheFor,
		opts:     opts,
		sessions: make(map[string]*Store),
	}
}

// DefaultTenant is the tenant used for an empty tenant name.
func (p *Provider) DefaultTenant() string {
	return p.stores.DefaultTenant()
}

// Store returns the session store of tenant, creating it on first use.
// A failed durable store is not cached so the next call retries.
func (p *Provider) Store(tenant string) (*Store, error) {
	if tenant == "" {
		tenant = p.stores.DefaultTenant()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.sessions[tenant]; ok {
		return s, nil
	}

	durable, err := p.stores.Store(tenant)
	if err != nil {
		return nil, fmt.Errorf("open session store of tenant %s: %w", tenant, err)
	}

	s := New(p.cacheFor(tenant), durable, p.opts...)
	s.logger = s.logger.With("tenant", tenant)
	p.sessions[tenant] = s
	return s, nil
}
