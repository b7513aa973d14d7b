package relation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Zereker/docstore/pkg/document"
)

const selectColumns = `id, collection, tenant, data::text, created_at, updated_at, version`

// buildQuery renders a tenant-scoped equality query. Filter keys are bound as
// parameters so they never reach the SQL text.
func buildQuery(tenant, collection string, filters map[string]any, limit int) (string, []any, error) {
	if limit <= 0 {
		limit = document.DefaultQueryLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + selectColumns + ` FROM documents WHERE tenant = $1 AND collection = $2`)
	args := []any{tenant, collection}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := json.Marshal(filters[k])
		if err != nil {
			return "", nil, fmt.Errorf("encode filter %q: %w", k, err)
		}
		args = append(args, k, string(value))
		fmt.Fprintf(&sb, ` AND data -> $%d = $%d::text::jsonb`, len(args)-1, len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&sb, ` ORDER BY created_at ASC LIMIT $%d`, len(args))

	return sb.String(), args, nil
}
