// Package persistence hands out one document store per tenant for the
// whole process.
package persistence

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Zereker/docstore/internal/embedstore"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/relation"
	"github.com/Zereker/docstore/pkg/sqlite"
)

// Backends accepted by BuilderFor.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// ErrNoDefault is returned by DocumentStore before SetDefault was called.
var ErrNoDefault = errors.New("no default store factory configured")

// Builder constructs the store of a tenant.
type Builder func(tenant string) (document.Store, error)

// Decorator wraps a freshly built store.
type Decorator func(tenant string, store document.Store) document.Store

// BuilderFor returns the builder of a configured backend. The postgres and
// sqlite backends must have been initialized with their package Init.
func BuilderFor(backend string) (Builder, error) {
	switch backend {
	case BackendPostgres:
		return func(tenant string) (document.Store, error) {
			store, err := relation.NewStore(tenant)
			if err != nil {
				return nil, err
			}
			return store, nil
		}, nil
	case BackendSQLite:
		return func(tenant string) (document.Store, error) {
			store, err := sqlite.NewStore(tenant)
			if err != nil {
				return nil, err
			}
			return store, nil
		}, nil
	case BackendMemory, "":
		return func(tenant string) (document.Store, error) {
			return document.NewMemoryStore(tenant), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// slot guards the construction of one tenant's store.
type slot struct {
	mu    sync.Mutex
	store document.Store
}

// Factory builds each tenant's store once and returns the same instance on
// every later call. A failed build is not cached; the next call retries.
type Factory struct {
	build         Builder
	decorators    []Decorator
	defaultTenant string

	mu    sync.Mutex
	slots map[string]*slot
}

// Option configures a Factory.
type Option func(*Factory)

// WithDefaultTenant sets the tenant used for an empty tenant name.
func WithDefaultTenant(tenant string) Option {
	return func(f *Factory) {
		if tenant != "" {
			f.defaultTenant = tenant
		}
	}
}

// WithDecorator wraps every built store, in registration order.
func WithDecorator(d Decorator) Option {
	return func(f *Factory) { f.decorators = append(f.decorators, d) }
}

// NewFactory creates a factory over build.
func NewFactory(build Builder, opts ...Option) *Factory {
	f := &Factory{
		build:         build,
		defaultTenant: document.DefaultTenant,
		slots:         make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DefaultTenant returns the tenant used for empty tenant names.
func (f *Factory) DefaultTenant() string {
	return f.defaultTenant
}

// Store returns the tenant's store, building it on first use.
func (f *Factory) Store(tenant string) (document.Store, error) {
	if tenant == "" {
		tenant = f.defaultTenant
	}

	f.mu.Lock()
	s, ok := f.slots[tenant]
	if !ok {
		s = &slot{}
		f.slots[tenant] = s
	}
	f.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}

	store, err := f.build(tenant)
	if err != nil {
		return nil, fmt.Errorf("build store for tenant %s: %w", tenant, err)
	}
	for _, d := range f.decorators {
		store = d(tenant, store)
	}
	s.store = store
	return store, nil
}

// Tenants returns the tenants with a built store, sorted.
func (f *Factory) Tenants() []string {
	f.mu.Lock()
	candidates := make([]*slot, 0, len(f.slots))
	names := make([]string, 0, len(f.slots))
	for name, s := range f.slots {
		candidates = append(candidates, s)
		names = append(names, name)
	}
	f.mu.Unlock()

	var tenants []string
	for i, s := range candidates {
		s.mu.Lock()
		if s.store != nil {
			tenants = append(tenants, names[i])
		}
		s.mu.Unlock()
	}
	slices.Sort(tenants)
	return tenants
}

// EmbeddingDecorator wraps stores with an embedding store that indexes
// through indexerFor(tenant), so every tenant writes into its own vector
// namespace. observers, when non-nil, returns the observers to attach for a
// tenant.
func EmbeddingDecorator(indexerFor func(tenant string) embedstore.Indexer, observers func(tenant string) []embedstore.Observer, opts ...embedstore.Option) Decorator {
	return func(tenant string, store document.Store) document.Store {
		es := embedstore.New(store, indexerFor(tenant), opts...)
		if observers != nil {
			for _, o := range observers(tenant) {
				es.AddObserver(o)
			}
		}
		return es
	}
}

var defaultFactory atomic.Pointer[Factory]

// SetDefault installs the process-wide factory.
func SetDefault(f *Factory) {
	defaultFactory.Store(f)
}

// Default returns the process-wide factory, or nil.
func Default() *Factory {
	return defaultFactory.Load()
}

// DocumentStore returns the tenant's store from the process-wide factory.
func DocumentStore(tenant string) (document.Store, error) {
	f := Default()
	if f == nil {
		return nil, ErrNoDefault
	}
	return f.Store(tenant)
}
