package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/internal/embedstore"
	"github.com/Zereker/docstore/internal/persistence"
	"github.com/Zereker/docstore/internal/session"
	"github.com/Zereker/docstore/internal/sessioninit"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/vector"
)

// letterEmbedder embeds text as letter frequencies.
type letterEmbedder struct{}

func (letterEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v, nil
}

// failingCache rejects every operation.
type failingCache struct{ *session.MemoryCache }

func (failingCache) Ping(context.Context) error { return assert.AnError }

// newTestServer builds the API over in-memory backends. A nil cache gives
// every tenant its own memory cache; otherwise all tenants share cache.
func newTestServer(t *testing.T, cache session.Cache) *httptest.Server {
	t.Helper()

	b := bridge.New(letterEmbedder{}, vector.NewMemoryIndex())
	build, err := persistence.BuilderFor(persistence.BackendMemory)
	require.NoError(t, err)
	factory := persistence.NewFactory(build,
		persistence.WithDecorator(persistence.EmbeddingDecorator(
			func(tenant string) embedstore.Indexer { return b.ForTenant(tenant) },
			nil,
			embedstore.WithCollections("notes"),
		)))

	sessions := session.NewProvider(factory, func(string) session.Cache {
		if cache != nil {
			return cache
		}
		return session.NewMemoryCache()
	})
	initializers := sessioninit.NewProvider(sessions)

	handler := NewHandler(Dependencies{
		Stores: factory,
		Recall: b,
		Sessions: func(tenant string) (Sessions, error) {
			s, err := sessions.Store(tenant)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Initializer: func(tenant string) (Initializer, error) {
			s, err := initializers.Service(tenant)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	})

	srv := httptest.NewServer(Routes(slog.New(slog.NewTextHandler(io.Discard, nil)), handler))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, tenant string, body any) (int, Response) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, data any) T {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/collections/graphs/documents", "", map[string]any{"name": "g", "n": 1})
	require.Equal(t, http.StatusCreated, status)
	created := decode[document.Document](t, resp.Data)
	assert.Equal(t, 1, created.Version)

	path := "/api/v1/collections/graphs/documents/" + created.ID

	status, resp = call(t, srv, http.MethodPatch, path, "", map[string]any{"n": 2})
	require.Equal(t, http.StatusOK, status)
	updated := decode[document.Document](t, resp.Data)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "g", updated.Data["name"])
	assert.Equal(t, float64(2), updated.Data["n"])

	status, resp = call(t, srv, http.MethodPost, "/api/v1/collections/graphs/query", "", QueryRequest{Filters: map[string]any{"n": 2}})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]document.Document](t, resp.Data), 1)

	status, resp = call(t, srv, http.MethodGet, "/api/v1/collections", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, decode[[]string](t, resp.Data), "graphs")

	status, _ = call(t, srv, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, resp = call(t, srv, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)

	status, _ = call(t, srv, http.MethodPatch, path, "", map[string]any{"n": 3})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, srv, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateWithIDConflict(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := call(t, srv, http.MethodPost, "/api/v1/collections/c/documents?id=fixed", "", map[string]any{"a": 1})
	require.Equal(t, http.StatusCreated, status)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/collections/c/documents?id=fixed", "", map[string]any{"a": 2})
	assert.Equal(t, http.StatusConflict, status)
}

func TestTenantIsolation(t *testing.T) {
	srv := newTestServer(t, nil)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/collections/c/documents", "tenant_a", map[string]any{"a": 1})
	require.Equal(t, http.StatusCreated, status)
	id := decode[document.Document](t, resp.Data).ID

	status, _ = call(t, srv, http.MethodGet, "/api/v1/collections/c/documents/"+id, "tenant_b", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/collections/c/documents/"+id, "tenant_a", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRecall(t *testing.T) {
	srv := newTestServer(t, nil)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/collections/notes/documents", "", map[string]any{"text": "hello world"})
	require.Equal(t, http.StatusCreated, status)
	id := decode[document.Document](t, resp.Data).ID

	status, resp = call(t, srv, http.MethodPost, "/api/v1/recall", "", RecallRequest{Query: "hello", Collection: "notes"})
	require.Equal(t, http.StatusOK, status)
	results := decode[[]bridge.RecallResult](t, resp.Data)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].DocumentID)
	assert.GreaterOrEqual(t, results[0].Score, bridge.DefaultRecallThreshold)

	status, _ = call(t, srv, http.MethodPost, "/api/v1/recall", "", RecallRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRecallTenantIsolation(t *testing.T) {
	srv := newTestServer(t, nil)
	recall := RecallRequest{Query: "private diary", Collection: "notes", Threshold: new(float64)}

	status, _ := call(t, srv, http.MethodPost, "/api/v1/collections/notes/documents?id=shared", "alice", map[string]any{"text": "alice private diary"})
	require.Equal(t, http.StatusCreated, status)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/recall", "bob", recall)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]bridge.RecallResult](t, resp.Data))

	// 相同 id 不能覆盖其他租户的向量
	status, _ = call(t, srv, http.MethodPost, "/api/v1/collections/notes/documents?id=shared", "bob", map[string]any{"text": "zzz"})
	require.Equal(t, http.StatusCreated, status)

	status, resp = call(t, srv, http.MethodPost, "/api/v1/recall", "alice", recall)
	require.Equal(t, http.StatusOK, status)
	results := decode[[]bridge.RecallResult](t, resp.Data)
	require.Len(t, results, 1)
	assert.Equal(t, "shared", results[0].DocumentID)
	assert.Equal(t, "alice private diary", results[0].Text)

	status, resp = call(t, srv, http.MethodPost, "/api/v1/recall", "bob", recall)
	require.Equal(t, http.StatusOK, status)
	results = decode[[]bridge.RecallResult](t, resp.Data)
	require.Len(t, results, 1)
	assert.Equal(t, "zzz", results[0].Text)
}

func TestSessionTenantIsolation(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := call(t, srv, http.MethodPut, "/api/v1/sessions/session:1:state", "alice", map[string]any{"a": 1})
	require.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/sessions/session:1:state", "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, resp := call(t, srv, http.MethodGet, "/api/v1/sessions", "bob", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]string](t, resp.Data))

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/sessions/session:1:state", "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, resp = call(t, srv, http.MethodGet, "/api/v1/sessions/session:1:state", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Data)

	status, resp = call(t, srv, http.MethodPost, "/api/v1/sessions", "alice", sessioninit.Request{UserID: "u1"})
	require.Equal(t, http.StatusCreated, status)
	sess := decode[sessioninit.Session](t, resp.Data)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/sessions/"+sessioninit.MetadataKey(sess.ID), "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, srv, http.MethodGet, "/api/v1/collections/conversations/documents/"+sess.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, srv, http.MethodGet, "/api/v1/collections/conversations/documents/"+sess.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSessions(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := call(t, srv, http.MethodPut, "/api/v1/sessions/session:1:state", "", map[string]any{"a": 1})
	require.Equal(t, http.StatusOK, status)

	status, resp := call(t, srv, http.MethodGet, "/api/v1/sessions/session:1:state", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"a": float64(1)}, resp.Data)

	status, resp = call(t, srv, http.MethodGet, "/api/v1/sessions", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"session:1:state"}, decode[[]string](t, resp.Data))

	status, _ = call(t, srv, http.MethodDelete, "/api/v1/sessions/session:1:state", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/sessions/session:1:state", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestInitializeSession(t *testing.T) {
	srv := newTestServer(t, nil)

	status, resp := call(t, srv, http.MethodPost, "/api/v1/sessions", "", sessioninit.Request{UserID: "u1", Title: "t"})
	require.Equal(t, http.StatusCreated, status)
	sess := decode[sessioninit.Session](t, resp.Data)
	require.NotEmpty(t, sess.ID)

	status, _ = call(t, srv, http.MethodGet, "/api/v1/sessions/"+sessioninit.MetadataKey(sess.ID), "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestInitializeSessionUnavailable(t *testing.T) {
	srv := newTestServer(t, failingCache{session.NewMemoryCache()})

	status, resp := call(t, srv, http.MethodPost, "/api/v1/sessions", "", sessioninit.Request{UserID: "u1"})
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, resp.Error, "persistence layer unavailable")
}

func TestEvents(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := call(t, srv, http.MethodPost, "/api/v1/events", "", map[string]any{"event_type": "a"})
	require.Equal(t, http.StatusCreated, status)

	status, resp := call(t, srv, http.MethodGet, "/api/v1/events?limit=10", "", nil)
	require.Equal(t, http.StatusOK, status)
	events := decode[[]document.Document](t, resp.Data)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].Data["timestamp"])

	status, _ = call(t, srv, http.MethodGet, "/api/v1/events?limit=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, resp = call(t, srv, http.MethodDelete, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"cleared": true}, resp.Data)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	status, resp := call(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	degraded := newTestServer(t, failingCache{session.NewMemoryCache()})
	status, resp = call(t, degraded, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	data := decode[struct {
		Status string               `json:"status"`
		Layers session.HealthReport `json:"layers"`
	}](t, resp.Data)
	assert.Equal(t, session.StatusUnhealthy, data.Layers.Cache.Status)
	assert.Equal(t, session.StatusHealthy, data.Layers.Durable.Status)
}
