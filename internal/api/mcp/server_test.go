package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/docstore/internal/bridge"
	"github.com/Zereker/docstore/internal/eventstore"
	"github.com/Zereker/docstore/internal/persistence"
	"github.com/Zereker/docstore/pkg/document"
)

// mockRecaller returns fixed results.
type mockRecaller struct {
	RecallFunc func(ctx context.Context, query string, opts bridge.RecallOptions) ([]bridge.RecallResult, error)
	lastOpts   bridge.RecallOptions
}

func (m *mockRecaller) Recall(ctx context.Context, query string, opts bridge.RecallOptions) ([]bridge.RecallResult, error) {
	m.lastOpts = opts
	if m.RecallFunc != nil {
		return m.RecallFunc(ctx, query, opts)
	}
	return nil, nil
}

func newFactory(t *testing.T) *persistence.Factory {
	t.Helper()
	build, err := persistence.BuilderFor(persistence.BackendMemory)
	require.NoError(t, err)
	return persistence.NewFactory(build)
}

func callTool(t *testing.T, h *Handler, name string, args any) ToolCallResponse {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return h.HandleToolCall(context.Background(), ToolCallRequest{Name: name, Arguments: raw})
}

func TestHandler_CreateAndQuery(t *testing.T) {
	factory := newFactory(t)
	h := NewHandler(Dependencies{Stores: factory})

	resp := callTool(t, h, "document_create", createArgs{Collection: "notes", ID: "n1", Data: map[string]any{"text": "hi", "tag": "a"}})
	require.False(t, resp.IsError, resp.Content[0].Text)
	assert.Contains(t, resp.Content[0].Text, "notes/n1")

	resp = callTool(t, h, "document_create", createArgs{Collection: "notes", ID: "n1", Data: map[string]any{}})
	assert.True(t, resp.IsError, "duplicate id")

	resp = callTool(t, h, "document_query", queryArgs{Collection: "notes", Filters: map[string]any{"tag": "a"}})
	require.False(t, resp.IsError)
	var docs []document.Document
	require.NoError(t, json.Unmarshal([]byte(resp.Content[0].Text), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "n1", docs[0].ID)

	resp = callTool(t, h, "document_query", queryArgs{Collection: "notes", Filters: map[string]any{"tag": "b"}})
	assert.False(t, resp.IsError)
	assert.Equal(t, "没有找到匹配的文档。", resp.Content[0].Text)

	resp = callTool(t, h, "document_query", queryArgs{})
	assert.True(t, resp.IsError)
}

func TestHandler_Recall(t *testing.T) {
	recaller := &mockRecaller{
		RecallFunc: func(context.Context, string, bridge.RecallOptions) ([]bridge.RecallResult, error) {
			return []bridge.RecallResult{{DocumentID: "X", Collection: "notes", Text: "hello world", Score: 0.9}}, nil
		},
	}
	h := NewHandler(Dependencies{Stores: newFactory(t), Recall: recaller})

	resp := callTool(t, h, "document_recall", map[string]any{"tenant": "alice", "query": "hello", "collection": "notes", "threshold": 0.7})
	require.False(t, resp.IsError)
	assert.Contains(t, resp.Content[0].Text, "[notes/X] (0.90) hello world")
	assert.Equal(t, "alice", recaller.lastOpts.Tenant)
	assert.Equal(t, 0.7, recaller.lastOpts.Threshold)
	assert.Equal(t, bridge.DefaultRecallLimit, recaller.lastOpts.Limit)

	disabled := NewHandler(Dependencies{Stores: newFactory(t)})
	resp = callTool(t, disabled, "document_recall", map[string]any{"query": "hello"})
	assert.True(t, resp.IsError)
}

func TestHandler_EventsDump(t *testing.T) {
	factory := newFactory(t)
	store, err := factory.Store("")
	require.NoError(t, err)
	for _, kind := range []string{"a", "b"} {
		_, err := eventstore.PersistEvent(context.Background(), store, map[string]any{"event_type": kind})
		require.NoError(t, err)
	}

	h := NewHandler(Dependencies{Stores: factory})

	resp := callTool(t, h, "events_dump", map[string]any{})
	require.False(t, resp.IsError)
	lines := strings.Split(strings.TrimSpace(resp.Content[0].Text), "\n")
	assert.Len(t, lines, 2)

	resp = callTool(t, h, "events_dump", map[string]any{"limit": 1})
	require.False(t, resp.IsError)
	lines = strings.Split(strings.TrimSpace(resp.Content[0].Text), "\n")
	assert.Len(t, lines, 1)

	resp = callTool(t, h, "events_dump", map[string]any{"tenant": "empty"})
	assert.Equal(t, "没有事件。", resp.Content[0].Text)
}

func TestHandler_UnknownTool(t *testing.T) {
	h := NewHandler(Dependencies{Stores: newFactory(t)})
	resp := callTool(t, h, "memory_add", map[string]any{})
	assert.True(t, resp.IsError)
}

func TestServer_Serve(t *testing.T) {
	srv := NewServer(Dependencies{Stores: newFactory(t)}, ServerConfig{Name: "docstore", Version: "test"})

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		`{"jsonrpc":"2.0","method":"initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"document_create","arguments":{"collection":"c","data":{"a":1}}}}`,
		`not json`,
		`{"jsonrpc":"2.0","id":4,"method":"nope"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(input), &out))

	var responses []map[string]any
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}

	// initialized 是通知，没有响应
	require.Len(t, responses, 5)
	assert.Equal(t, "docstore", responses[0]["result"].(map[string]any)["serverInfo"].(map[string]any)["name"])

	tools := responses[1]["result"].(map[string]any)["tools"].([]any)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"document_recall", "document_create", "document_query", "events_dump"}, names)

	call := responses[2]["result"].(map[string]any)
	assert.Nil(t, call["isError"])

	assert.Equal(t, float64(-32700), responses[3]["error"].(map[string]any)["code"])
	assert.Equal(t, float64(-32601), responses[4]["error"].(map[string]any)["code"])
}

func serveLines(t *testing.T, srv *Server, lines ...string) []map[string]any {
	t.Helper()

	var out bytes.Buffer
	require.NoError(t, srv.Serve(context.Background(), strings.NewReader(strings.Join(lines, "\n")), &out))

	var responses []map[string]any
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServer_ToolCallTenant(t *testing.T) {
	factory := newFactory(t)
	recaller := &mockRecaller{}
	srv := NewServer(Dependencies{Stores: factory, Recall: recaller}, ServerConfig{Name: "docstore", Tenant: "acme"})

	responses := serveLines(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"document_create","arguments":{"collection":"c","id":"d1","data":{"a":1}}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"document_create","arguments":{"tenant":"other","collection":"c","id":"d2","data":{"a":2}}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"document_recall","arguments":{"query":"q"}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"document_create","arguments":[1,2]}}`,
	)
	require.Len(t, responses, 4)

	ctx := context.Background()
	acme, err := factory.Store("acme")
	require.NoError(t, err)
	doc, err := acme.Read(ctx, "c", "d1")
	require.NoError(t, err)
	assert.NotNil(t, doc, "call without tenant runs as the server tenant")

	other, err := factory.Store("other")
	require.NoError(t, err)
	doc, err = other.Read(ctx, "c", "d2")
	require.NoError(t, err)
	assert.NotNil(t, doc)
	doc, err = acme.Read(ctx, "c", "d2")
	require.NoError(t, err)
	assert.Nil(t, doc)

	assert.Equal(t, "acme", recaller.lastOpts.Tenant)
	assert.Equal(t, float64(codeInvalidParams), responses[3]["error"].(map[string]any)["code"])
}

func TestServer_Notifications(t *testing.T) {
	srv := NewServer(Dependencies{Stores: newFactory(t)}, ServerConfig{Name: "docstore"})

	responses := serveLines(t, srv,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
		``,
		`{"jsonrpc":"2.0","id":"p","method":"ping"}`,
	)
	require.Len(t, responses, 1)
	assert.Equal(t, "p", responses[0]["id"])
}
