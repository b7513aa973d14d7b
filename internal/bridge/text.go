package bridge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxTextLength caps the text stored alongside a vector.
	MaxTextLength = 10000
	// shortFieldLimit bounds string fields used by the fallback extraction.
	shortFieldLimit = 1000
	// IndexPrefix namespaces every sub-index owned by the bridge.
	IndexPrefix = "docstore_"
	// tenantSeparator ends the tenant part of a sub-index name.
	tenantSeparator = "__"
)

var textFields = []string{"text", "content", "message"}

// ExtractText picks the text that represents data. An explicit "text",
// "content" or "message" field wins in that order; otherwise the short string
// fields are joined in key order, capped at MaxTextLength. Returns "" when
// nothing usable is found.
func ExtractText(data map[string]any) string {
	for _, field := range textFields {
		if v, ok := data[field]; ok && v != nil {
			return stringify(v)
		}
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" && utf8.RuneCountInString(s) < shortFieldLimit {
			parts = append(parts, s)
		}
	}
	return Truncate(strings.Join(parts, " "), MaxTextLength)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any, []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	default:
		return fmt.Sprint(val)
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// SubIndexName maps a tenant's collection to its vector sub-index:
// IndexPrefix, the encoded tenant, "__", then the collection slug. Index names
// must be lowercase, so the collection is lowercased and every run of
// characters outside [a-z0-9] becomes a single underscore.
func SubIndexName(tenant, collection string) string {
	var sb strings.Builder
	sb.WriteString(TenantIndexPrefix(tenant))

	pendingSep := false
	wrote := false
	for _, r := range strings.ToLower(collection) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && wrote {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
			pendingSep = false
			wrote = true
			continue
		}
		pendingSep = true
	}

	if !wrote {
		sb.WriteString("default")
	}
	return sb.String()
}

// TenantIndexPrefix is the name prefix shared by every sub-index of tenant.
// Distinct tenants never share a prefix, and no prefix is a prefix of
// another tenant's.
func TenantIndexPrefix(tenant string) string {
	return IndexPrefix + encodeTenant(tenant) + tenantSeparator
}

// encodeTenant keeps [a-z0-9] and writes every other byte as "_" plus two
// hex digits. The encoding is injective and never contains "__".
func encodeTenant(tenant string) string {
	const hex = "0123456789abcdef"

	var sb strings.Builder
	for i := 0; i < len(tenant); i++ {
		c := tenant[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('_')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0x0f])
	}
	return sb.String()
}
