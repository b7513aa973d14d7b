package relation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zereker/docstore/pkg/document"
)

const uniqueViolation = "23505"

// PostgresStore is a tenant-scoped document store on a JSONB table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tenant string
	logger *slog.Logger
}

// 确保 PostgresStore 实现 document.Store 接口
var (
	_ document.Store  = (*PostgresStore)(nil)
	_ document.Pinger = (*PostgresStore)(nil)
)

// NewStoreWithPool binds a store to tenant on an existing pool.
func NewStoreWithPool(pool *pgxpool.Pool, tenant string) *PostgresStore {
	if tenant == "" {
		tenant = document.DefaultTenant
	}
	return &PostgresStore{
		pool:   pool,
		tenant: tenant,
		logger: slog.Default().With("module", "relation", "tenant", tenant),
	}
}

// Tenant returns the tenant this store is bound to.
func (s *PostgresStore) Tenant() string {
	return s.tenant
}

func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (*document.Document, error) {
	return s.insert(ctx, "create", collection, uuid.NewString(), data)
}

func (s *PostgresStore) CreateWithID(ctx context.Context, collection, id string, data map[string]any) (*document.Document, error) {
	return s.insert(ctx, "create_with_id", collection, id, data)
}

func (s *PostgresStore) insert(ctx context.Context, op, collection, id string, data map[string]any) (*document.Document, error) {
	normalized, raw, err := encodeData(data)
	if err != nil {
		return nil, document.NewStorageError(op, collection, err)
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
INSERT INTO documents (id, collection, tenant, data, created_at, updated_at, version)
VALUES ($1, $2, $3, $4::text::jsonb, $5, $5, 1)`,
		id, collection, s.tenant, raw, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, document.NewStorageError(op, collection,
				fmt.Errorf("%w: %s", document.ErrDuplicateID, id))
		}
		return nil, document.NewStorageError(op, collection, err)
	}

	s.logger.Debug("document created", "collection", collection, "id", id)
	return &document.Document{
		ID:         id,
		Collection: collection,
		Tenant:     s.tenant,
		Data:       normalized,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}, nil
}

func (s *PostgresStore) Read(ctx context.Context, collection, id string) (*document.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE tenant = $1 AND collection = $2 AND id = $3`,
		s.tenant, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, document.NewStorageError("read", collection, err)
	}
	return doc, nil
}

// Update merges partial into the stored data. The read and the write are not
// atomic; concurrent updates of the same document may lose fields.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, partial map[string]any) (*document.Document, error) {
	current, err := s.Read(ctx, collection, id)
	if err != nil || current == nil {
		return nil, err
	}

	patch, _, err := encodeData(partial)
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}
	_, raw, err := encodeData(document.Merge(current.Data, patch))
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	row := s.pool.QueryRow(ctx, `
UPDATE documents SET data = $4::text::jsonb, updated_at = $5, version = version + 1
WHERE tenant = $1 AND collection = $2 AND id = $3
RETURNING `+selectColumns,
		s.tenant, collection, id, raw, time.Now().UTC())

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}
	return doc, nil
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE tenant = $1 AND collection = $2 AND id = $3`,
		s.tenant, collection, id)
	if err != nil {
		return false, document.NewStorageError("delete", collection, err)
	}

	deleted := tag.RowsAffected() > 0
	if deleted {
		s.logger.Debug("document deleted", "collection", collection, "id", id)
	}
	return deleted, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filters map[string]any, limit int) ([]*document.Document, error) {
	sql, args, err := buildQuery(s.tenant, collection, filters, limit)
	if err != nil {
		return nil, document.NewStorageError("query", collection, err)
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, document.NewStorageError("query", collection, err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, document.NewStorageError("query", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, document.NewStorageError("query", collection, err)
	}
	return docs, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT collection FROM documents WHERE tenant = $1 ORDER BY collection`,
		s.tenant)
	if err != nil {
		return nil, document.NewStorageError("list_collections", "", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, document.NewStorageError("list_collections", "", err)
	}
	return names, nil
}

func (s *PostgresStore) DeleteCollection(ctx context.Context, collection string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE tenant = $1 AND collection = $2`,
		s.tenant, collection)
	if err != nil {
		return false, document.NewStorageError("delete_collection", collection, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteTenantData removes every document of the bound tenant.
func (s *PostgresStore) DeleteTenantData(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE tenant = $1`, s.tenant)
	if err != nil {
		return 0, document.NewStorageError("delete_tenant_data", "", err)
	}
	s.logger.Info("tenant data deleted", "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc document.Document
		raw string
	)
	if err := row.Scan(&doc.ID, &doc.Collection, &doc.Tenant, &raw,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.Version); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return nil, fmt.Errorf("decode document data: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return &doc, nil
}

func encodeData(data map[string]any) (map[string]any, string, error) {
	normalized, err := document.Normalize(data)
	if err != nil {
		return nil, "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, "", err
	}
	return normalized, string(raw), nil
}
