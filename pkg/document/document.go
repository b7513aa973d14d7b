package document

import (
	"context"
	"time"
)

const (
	// DefaultTenant is the tenant used when none is configured.
	DefaultTenant = "default"

	// DefaultQueryLimit is applied when Query is called with a non-positive limit.
	DefaultQueryLimit = 100
)

// Document is the unit persisted by a Store.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Tenant     string         `json:"tenant"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Version    int            `json:"version"`
}

// Store defines the storage contract for documents grouped by collection.
// An implementation is bound to a single tenant for its whole lifetime.
//
// "Not found" is never an error: Read and Update return (nil, nil) and
// Delete returns false. Backend failures are returned as *StorageError.
type Store interface {
	// Create stores data under a newly generated id with version 1.
	Create(ctx context.Context, collection string, data map[string]any) (*Document, error)

	// CreateWithID stores data under the caller-chosen id.
	// It fails with ErrDuplicateID when the id already exists in the collection.
	CreateWithID(ctx context.Context, collection, id string, data map[string]any) (*Document, error)

	// Read returns the document or nil if it does not exist.
	Read(ctx context.Context, collection, id string) (*Document, error)

	// Update shallow-merges partial into the stored data and bumps the version.
	// Returns nil if the document does not exist.
	Update(ctx context.Context, collection, id string, partial map[string]any) (*Document, error)

	// Delete removes the document and reports whether a row was removed.
	Delete(ctx context.Context, collection, id string) (bool, error)

	// Query returns documents whose top-level fields equal every filter value.
	Query(ctx context.Context, collection string, filters map[string]any, limit int) ([]*Document, error)

	// ListCollections returns the distinct collection names of the tenant.
	ListCollections(ctx context.Context) ([]string, error)

	// DeleteCollection removes every document of the collection.
	DeleteCollection(ctx context.Context, collection string) (bool, error)
}

// Pinger is implemented by stores that can ping their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Data = deepCopy(d.Data)
	return &c
}
