package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zereker/docstore/pkg/document"
)

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `id, collection, tenant, data, created_at, updated_at, version`

// Store is a tenant-scoped document store on SQLite.
type Store struct {
	db     *sql.DB
	tenant string
	logger *slog.Logger
}

var (
	_ document.Store  = (*Store)(nil)
	_ document.Pinger = (*Store)(nil)
)

func newStore(d *DB, tenant string) *Store {
	if tenant == "" {
		tenant = document.DefaultTenant
	}
	return &Store{
		db:     d.db,
		tenant: tenant,
		logger: d.logger.With("tenant", tenant),
	}
}

// Tenant returns the tenant this store is bound to.
func (s *Store) Tenant() string {
	return s.tenant
}

func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (*document.Document, error) {
	return s.insert(ctx, "create", collection, uuid.NewString(), data)
}

func (s *Store) CreateWithID(ctx context.Context, collection, id string, data map[string]any) (*document.Document, error) {
	return s.insert(ctx, "create_with_id", collection, id, data)
}

func (s *Store) insert(ctx context.Context, op, collection, id string, data map[string]any) (*document.Document, error) {
	normalized, raw, err := encodeData(data)
	if err != nil {
		return nil, document.NewStorageError(op, collection, err)
	}

	now := time.Now().UTC()
	ts := now.Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO documents (id, collection, tenant, data, created_at, updated_at, version)
VALUES (?, ?, ?, json(?), ?, ?, 1)
ON CONFLICT (tenant, collection, id) DO NOTHING`,
		id, collection, s.tenant, raw, ts, ts)
	if err != nil {
		return nil, document.NewStorageError(op, collection, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, document.NewStorageError(op, collection, err)
	}
	if n == 0 {
		return nil, document.NewStorageError(op, collection,
			fmt.Errorf("%w: %s", document.ErrDuplicateID, id))
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

func (s *Store) Read(ctx context.Context, collection, id string) (*document.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE tenant = ? AND collection = ? AND id = ?`,
		s.tenant, collection, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, document.NewStorageError("read", collection, err)
	}
	return doc, nil
}

// Update merges partial into the stored data inside a transaction.
func (s *Store) Update(ctx context.Context, collection, id string, partial map[string]any) (*document.Document, error) {
	patch, _, err := encodeData(partial)
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanDocument(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM documents WHERE tenant = ? AND collection = ? AND id = ?`,
		s.tenant, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	merged, raw, err := encodeData(document.Merge(current.Data, patch))
	if err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
UPDATE documents SET data = json(?), updated_at = ?, version = version + 1
WHERE tenant = ? AND collection = ? AND id = ?`,
		raw, now.Format(timeLayout), s.tenant, collection, id); err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, document.NewStorageError("update", collection, err)
	}

	current.Data = merged
	current.UpdatedAt = now
	current.Version++
	return current, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tenant = ? AND collection = ? AND id = ?`,
		s.tenant, collection, id)
	if err != nil {
		return false, document.NewStorageError("delete", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, document.NewStorageError("delete", collection, err)
	}
	return n > 0, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters map[string]any, limit int) ([]*document.Document, error) {
	query, args, err := buildQuery(s.tenant, collection, filters, limit)
	if err != nil {
		return nil, document.NewStorageError("query", collection, err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents WHERE tenant = ? ORDER BY collection`,
		s.tenant)
	if err != nil {
		return nil, document.NewStorageError("list_collections", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, document.NewStorageError("list_collections", "", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, document.NewStorageError("list_collections", "", err)
	}
	return names, nil
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE tenant = ? AND collection = ?`,
		s.tenant, collection)
	if err != nil {
		return false, document.NewStorageError("delete_collection", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, document.NewStorageError("delete_collection", collection, err)
	}
	return n > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// buildQuery renders an equality query on JSON fields. Both sides of each
// comparison are rendered as minified JSON text by SQLite.
func buildQuery(tenant, collection string, filters map[string]any, limit int) (string, []any, error) {
	if limit <= 0 {
		limit = document.DefaultQueryLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + selectColumns + ` FROM documents WHERE tenant = ? AND collection = ?`)
	args := []any{tenant, collection}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if strings.Contains(k, `"`) {
			return "", nil, fmt.Errorf("filter key %q must not contain double quotes", k)
		}
		value, err := json.Marshal(filters[k])
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %q: %w", k, err)
		}
		sb.WriteString(` AND data -> ? = json(?)`)
		args = append(args, `$."`+k+`"`, string(value))
	}

	sb.WriteString(` ORDER BY created_at ASC, rowid ASC LIMIT ?`)
	args = append(args, limit)

	return sb.String(), args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc              document.Document
		raw              string
		created, updated string
	)
	if err := row.Scan(&doc.ID, &doc.Collection, &doc.Tenant, &raw,
		&created, &updated, &doc.Version); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(raw), &doc.Data); err != nil {
		return nil, fmt.Errorf("decode document data: %w", err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}

	var err error
	if doc.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("decode updated_at: %w", err)
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
