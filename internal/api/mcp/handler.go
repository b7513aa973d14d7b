package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/internal/eventstore"
	"github.com/Zereker/docstore/pkg/document"
)

// StoreProvider returns the document store of a tenant.
type StoreProvider interface {
	Store(tenant string) (document.Store, error)
}

// Recaller serves semantic recall.
type Recaller interface {
	Recall(ctx context.Context, query string, opts bridge.RecallOptions) ([]bridge.RecallResult, error)
}

// Dependencies are the services behind the tools. Recall may be nil.
type Dependencies struct {
	Stores StoreProvider
	Recall Recaller
}

// Handler handles MCP tool calls
type Handler struct {
	deps Dependencies
}

// NewHandler creates a new MCP handler
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		deps: deps,
	}
}

// ToolCallRequest represents an MCP tool call request
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse represents an MCP tool call response
type ToolCallResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HandleToolCall handles an MCP tool call
func (h *Handler) HandleToolCall(ctx context.Context, req ToolCallRequest) ToolCallResponse {
	switch req.Name {
	case "document_recall":
		return h.handleRecall(ctx, req.Arguments)
	case "document_create":
		return h.handleCreate(ctx, req.Arguments)
	case "document_query":
		return h.handleQuery(ctx, req.Arguments)
	case "events_dump":
		return h.handleEventsDump(ctx, req.Arguments)
	default:
		return errorResponse(fmt.Sprintf("unknown tool: %s", req.Name))
	}
}

type recallArgs struct {
	Tenant     string   `json:"tenant"`
	Query      string   `json:"query"`
	Collection string   `json:"collection"`
	Limit      int      `json:"limit"`
	Threshold  *float64 `json:"threshold"`
}

// handleRecall handles document_recall tool call
func (h *Handler) handleRecall(ctx context.Context, args json.RawMessage) ToolCallResponse {
	if h.deps.Recall == nil {
		return errorResponse("recall is not enabled")
	}

	var req recallArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}
	if req.Query == "" {
		return errorResponse("query is required")
	}

	opts := bridge.DefaultRecallOptions()
	opts.Tenant = req.Tenant
	opts.Collection = req.Collection
	if req.Limit > 0 {
		opts.Limit = req.Limit
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}

	results, err := h.deps.Recall.Recall(ctx, req.Query, opts)
	if err != nil {
		return errorResponse(fmt.Sprintf("recall failed: %v", err))
	}

	return successResponse(formatRecallResults(results))
}

type createArgs struct {
	Tenant     string         `json:"tenant"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
}

// handleCreate handles document_create tool call
func (h *Handler) handleCreate(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req createArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}
	if req.Collection == "" {
		return errorResponse("collection is required")
	}

	store, err := h.deps.Stores.Store(req.Tenant)
	if err != nil {
		return errorResponse(fmt.Sprintf("persistence unavailable: %v", err))
	}

	var doc *document.Document
	if req.ID != "" {
		doc, err = store.CreateWithID(ctx, req.Collection, req.ID, req.Data)
	} else {
		doc, err = store.Create(ctx, req.Collection, req.Data)
	}
	if err != nil {
		return errorResponse(fmt.Sprintf("create failed: %v", err))
	}

	return successResponse(fmt.Sprintf("成功创建文档: %s/%s (version %d)", doc.Collection, doc.ID, doc.Version))
}

type queryArgs struct {
	Tenant     string         `json:"tenant"`
	Collection string         `json:"collection"`
	Filters    map[string]any `json:"filters"`
	Limit      int            `json:"limit"`
}

// handleQuery handles document_query tool call
func (h *Handler) handleQuery(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req queryArgs
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}
	if req.Collection == "" {
		return errorResponse("collection is required")
	}

	store, err := h.deps.Stores.Store(req.Tenant)
	if err != nil {
		return errorResponse(fmt.Sprintf("persistence unavailable: %v", err))
	}

	docs, err := store.Query(ctx, req.Collection, req.Filters, req.Limit)
	if err != nil {
		return errorResponse(fmt.Sprintf("query failed: %v", err))
	}
	if len(docs) == 0 {
		return successResponse("没有找到匹配的文档。")
	}

	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("encode failed: %v", err))
	}
	return successResponse(string(raw))
}

type eventsDumpArgs struct {
	Tenant string `json:"tenant"`
	Limit  int    `json:"limit"`
}

// handleEventsDump handles events_dump tool call
func (h *Handler) handleEventsDump(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req eventsDumpArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &req); err != nil {
			return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	store, err := h.deps.Stores.Store(req.Tenant)
	if err != nil {
		return errorResponse(fmt.Sprintf("persistence unavailable: %v", err))
	}

	var sb strings.Builder
	if req.Limit > 0 {
		docs, err := eventstore.DumpAllEvents(ctx, store, req.Limit)
		if err != nil {
			return errorResponse(fmt.Sprintf("dump failed: %v", err))
		}
		enc := json.NewEncoder(&sb)
		for _, doc := range docs {
			_ = enc.Encode(doc.Data)
		}
	} else if _, err := eventstore.WriteJSONL(ctx, store, &sb); err != nil {
		return errorResponse(fmt.Sprintf("dump failed: %v", err))
	}

	if sb.Len() == 0 {
		return successResponse("没有事件。")
	}
	return successResponse(sb.String())
}

// formatRecallResults 格式化召回结果
func formatRecallResults(results []bridge.RecallResult) string {
	if len(results) == 0 {
		return "没有找到相关的文档。"
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("- [%s/%s] (%.2f) %s", r.Collection, r.DocumentID, r.Score, truncate(r.Text, 100)))
	}
	return strings.Join(parts, "\n")
}

// Helper functions

func successResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
	}
}

func errorResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
		IsError: true,
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
