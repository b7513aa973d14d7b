package sessioninit

import (
	"sync"

	"github.com/Zereker/docstore/internal/session"
)

// Provider hands out one Service per tenant, built over that tenant's
// session store and conversation records.
type Provider struct {
	sessions *session.Provider
	opts     []Option

	mu       sync.Mutex
	services map[string]*Service
}

// NewProvider creates a provider over sessions.
func NewProvider(sessions *session.Provider, opts ...Option) *Provider {
	return &Provider{
		sessions: sessions,
		opts:     opts,
		services: make(map[string]*Service),
	}
}

// Service returns the initialization service of tenant.
func (p *Provider) Service(tenant string) (*Service, error) {
	if tenant == "" {
		tenant = p.sessions.DefaultTenant()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.services[tenant]; ok {
		return s, nil
	}

	store, err := p.sessions.Store(tenant)
	if err != nil {
		return nil, err
	}

	s := NewService(store, NewDocumentConversations(store.Durable()), store, p.opts...)
	s.logger = s.logger.With("tenant", tenant)
	p.services[tenant] = s
	return s, nil
}
