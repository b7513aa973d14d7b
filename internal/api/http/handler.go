package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/internal/eventstore"
	"github.com/Zereker/docstore/internal/session"
	"github.com/Zereker/docstore/internal/sessioninit"
	"github.com/Zereker/docstore/pkg/document"
	"github.com/Zereker/docstore/pkg/log"
)

// TenantHeader selects the tenant of a request.
const TenantHeader = "X-Tenant"

// StoreProvider returns the document store of a tenant.
type StoreProvider interface {
	Store(tenant string) (document.Store, error)
}

// Recaller serves semantic recall.
type Recaller interface {
	Recall(ctx context.Context, query string, opts bridge.RecallOptions) ([]bridge.RecallResult, error)
}

// Sessions is the write-through session store.
type Sessions interface {
	Write(ctx context.Context, key string, value any) error
	Read(ctx context.Context, key string) (any, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, pattern string) ([]string, error)
	HealthCheck(ctx context.Context) session.HealthReport
}

// Initializer creates new sessions.
type Initializer interface {
	Initialize(ctx context.Context, req sessioninit.Request) (*sessioninit.Session, error)
}

// SessionsFor resolves the session store of a tenant. An empty tenant is
// the default tenant.
type SessionsFor func(tenant string) (Sessions, error)

// InitializerFor resolves the session initializer of a tenant.
type InitializerFor func(tenant string) (Initializer, error)

// Dependencies are the services behind the API. Recall may be nil when
// embedding is disabled.
type Dependencies struct {
	Stores      StoreProvider
	Recall      Recaller
	Sessions    SessionsFor
	Initializer InitializerFor
}

// Handler handles HTTP API requests
type Handler struct {
	logger *slog.Logger
	deps   Dependencies
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		logger: log.Logger("http.handler"),
		deps:   deps,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Documents
	mux.HandleFunc("GET /api/v1/collections", h.ListCollections)
	mux.HandleFunc("DELETE /api/v1/collections/{collection}", h.DeleteCollection)
	mux.HandleFunc("POST /api/v1/collections/{collection}/documents", h.CreateDocument)
	mux.HandleFunc("GET /api/v1/collections/{collection}/documents/{id}", h.ReadDocument)
	mux.HandleFunc("PATCH /api/v1/collections/{collection}/documents/{id}", h.UpdateDocument)
	mux.HandleFunc("DELETE /api/v1/collections/{collection}/documents/{id}", h.DeleteDocument)
	mux.HandleFunc("POST /api/v1/collections/{collection}/query", h.QueryDocuments)

	// Recall
	mux.HandleFunc("POST /api/v1/recall", h.Recall)

	// Sessions
	mux.HandleFunc("POST /api/v1/sessions", h.InitializeSession)
	mux.HandleFunc("GET /api/v1/sessions", h.ListSessionKeys)
	mux.HandleFunc("PUT /api/v1/sessions/{key}", h.WriteSession)
	mux.HandleFunc("GET /api/v1/sessions/{key}", h.ReadSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{key}", h.DeleteSession)

	// Events
	mux.HandleFunc("POST /api/v1/events", h.PersistEvent)
	mux.HandleFunc("GET /api/v1/events", h.DumpEvents)
	mux.HandleFunc("DELETE /api/v1/events", h.ClearEvents)

	// Health check
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// store resolves the tenant's store, writing the error response on failure.
func (h *Handler) store(w http.ResponseWriter, r *http.Request) (document.Store, bool) {
	store, err := h.deps.Stores.Store(r.Header.Get(TenantHeader))
	if err != nil {
		h.logger.Error("store unavailable", "tenant", r.Header.Get(TenantHeader), "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "persistence unavailable: "+err.Error())
		return nil, false
	}
	return store, true
}

// sessions resolves the tenant's session store.
func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) (Sessions, bool) {
	tenant := r.Header.Get(TenantHeader)
	sessions, err := h.deps.Sessions(tenant)
	if err != nil {
		h.logger.Error("session store unavailable", "tenant", tenant, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "persistence unavailable: "+err.Error())
		return nil, false
	}
	return sessions, true
}

// ListCollections handles GET /api/v1/collections
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	collections, err := store.ListCollections(r.Context())
	if err != nil {
		h.writeStoreError(w, "list collections", err)
		return
	}
	if collections == nil {
		collections = []string{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: collections})
}

// DeleteCollection handles DELETE /api/v1/collections/{collection}
func (h *Handler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	collection := r.PathValue("collection")
	deleted, err := store.DeleteCollection(r.Context(), collection)
	if err != nil {
		h.writeStoreError(w, "delete collection", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]any{"collection": collection, "deleted": deleted},
	})
}

// CreateDocument handles POST /api/v1/collections/{collection}/documents.
// The body is the document data; ?id= picks the id.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	collection := r.PathValue("collection")
	var (
		doc *document.Document
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		doc, err = store.CreateWithID(r.Context(), collection, id, data)
	} else {
		doc, err = store.Create(r.Context(), collection, data)
	}
	if errors.Is(err, document.ErrDuplicateID) {
		h.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.writeStoreError(w, "create", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: doc})
}

// ReadDocument handles GET /api/v1/collections/{collection}/documents/{id}
func (h *Handler) ReadDocument(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	doc, err := store.Read(r.Context(), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, "read", err)
		return
	}
	if doc == nil {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: doc})
}

// UpdateDocument handles PATCH /api/v1/collections/{collection}/documents/{id}.
// The body is merged into the stored data.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var partial map[string]any
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	doc, err := store.Update(r.Context(), r.PathValue("collection"), r.PathValue("id"), partial)
	if err != nil {
		h.writeStoreError(w, "update", err)
		return
	}
	if doc == nil {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: doc})
}

// DeleteDocument handles DELETE /api/v1/collections/{collection}/documents/{id}
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	deleted, err := store.Delete(r.Context(), r.PathValue("collection"), id)
	if err != nil {
		h.writeStoreError(w, "delete", err)
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"deleted": id},
	})
}

// QueryRequest is the body of a query.
type QueryRequest struct {
	Filters map[string]any `json:"filters"`
	Limit   int            `json:"limit"`
}

// QueryDocuments handles POST /api/v1/collections/{collection}/query
func (h *Handler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	docs, err := store.Query(r.Context(), r.PathValue("collection"), req.Filters, req.Limit)
	if err != nil {
		h.writeStoreError(w, "query", err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: docs})
}

// RecallRequest is the body of a recall.
type RecallRequest struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection"`
	Limit      int      `json:"limit"`
	Threshold  *float64 `json:"threshold"`
}

// Recall handles POST /api/v1/recall
func (h *Handler) Recall(w http.ResponseWriter, r *http.Request) {
	if h.deps.Recall == nil {
		h.writeError(w, http.StatusServiceUnavailable, "recall is not enabled")
		return
	}

	var req RecallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	opts := bridge.DefaultRecallOptions()
	opts.Tenant = r.Header.Get(TenantHeader)
	opts.Collection = req.Collection
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	results, err := h.deps.Recall.Recall(r.Context(), req.Query, opts)
	if err != nil {
		h.logger.Error("recall failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if results == nil {
		results = []bridge.RecallResult{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: results})
}

// InitializeSession handles POST /api/v1/sessions
func (h *Handler) InitializeSession(w http.ResponseWriter, r *http.Request) {
	var req sessioninit.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tenant := r.Header.Get(TenantHeader)
	initializer, err := h.deps.Initializer(tenant)
	if err != nil {
		h.logger.Error("session initializer unavailable", "tenant", tenant, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "persistence unavailable: "+err.Error())
		return
	}

	sess, err := initializer.Initialize(r.Context(), req)
	if err != nil {
		var unavailable *sessioninit.PersistenceLayerUnavailableError
		status := http.StatusInternalServerError
		if errors.As(err, &unavailable) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("session initialization failed", "error", err)
		h.writeError(w, status, err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: sess})
}

// ListSessionKeys handles GET /api/v1/sessions?pattern=
func (h *Handler) ListSessionKeys(w http.ResponseWriter, r *http.Request) {
	sessions, ok := h.sessions(w, r)
	if !ok {
		return
	}

	keys, err := sessions.ListKeys(r.Context(), r.URL.Query().Get("pattern"))
	if err != nil {
		h.logger.Error("list session keys failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if keys == nil {
		keys = []string{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: keys})
}

// WriteSession handles PUT /api/v1/sessions/{key}. The body is the value.
func (h *Handler) WriteSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := h.sessions(w, r)
	if !ok {
		return
	}

	var value any
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	key := r.PathValue("key")
	if err := sessions.Write(r.Context(), key, value); err != nil {
		h.logger.Error("session write failed", "key", key, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"key": key}})
}

// ReadSession handles GET /api/v1/sessions/{key}
func (h *Handler) ReadSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := h.sessions(w, r)
	if !ok {
		return
	}

	key := r.PathValue("key")
	value, ok, err := sessions.Read(r.Context(), key)
	if err != nil {
		h.logger.Error("session read failed", "key", key, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, "session key not found")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: value})
}

// DeleteSession handles DELETE /api/v1/sessions/{key}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessions, ok := h.sessions(w, r)
	if !ok {
		return
	}

	key := r.PathValue("key")
	deleted, err := sessions.Delete(r.Context(), key)
	if err != nil {
		h.logger.Error("session delete failed", "key", key, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "session key not found")
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"deleted": key}})
}

// PersistEvent handles POST /api/v1/events
func (h *Handler) PersistEvent(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	var event map[string]any
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	doc, err := eventstore.PersistEvent(r.Context(), store, event)
	if err != nil {
		h.writeStoreError(w, "persist event", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, Response{Success: true, Data: doc})
}

// DumpEvents handles GET /api/v1/events?limit=
func (h *Handler) DumpEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid limit: "+s)
			return
		}
		limit = n
	}

	docs, err := eventstore.DumpAllEvents(r.Context(), store, limit)
	if err != nil {
		h.writeStoreError(w, "dump events", err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: docs})
}

// ClearEvents handles DELETE /api/v1/events
func (h *Handler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	store, ok := h.store(w, r)
	if !ok {
		return
	}

	cleared, err := eventstore.ClearAllEvents(r.Context(), store)
	if err != nil {
		h.writeStoreError(w, "clear events", err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]bool{"cleared": cleared}})
}

// Health handles GET /health. It reports each persistence layer of the
// default tenant separately.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.deps.Sessions("")
	if err != nil {
		h.logger.Error("session store unavailable", "error", err)
		h.writeJSON(w, http.StatusServiceUnavailable, Response{
			Success: false,
			Data:    map[string]any{"status": session.StatusUnhealthy},
			Error:   err.Error(),
		})
		return
	}

	report := sessions.HealthCheck(r.Context())

	status := http.StatusOK
	overall := session.StatusHealthy
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
		overall = session.StatusUnhealthy
	}

	h.writeJSON(w, status, Response{
		Success: report.Healthy(),
		Data: map[string]any{
			"status": overall,
			"layers": report,
		},
	})
}

// writeStoreError reports a store failure. Backend failures are surfaced as
// "persistence unavailable".
func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	if document.IsStorageError(err) {
		h.writeError(w, http.StatusServiceUnavailable, "persistence unavailable: "+err.Error())
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}
