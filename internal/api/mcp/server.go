package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Zereker/docstore/pkg/log"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Server serves the document tools over newline-delimited JSON-RPC.
type Server struct {
	logger  *slog.Logger
	handler *Handler
	name    string
	version string
	tenant  string
	methods map[string]methodFunc

	// 响应按行写出，不能交错
	writeMu sync.Mutex
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Name    string
	Version string
	// Tenant is used by tool calls that do not name one.
	Tenant string
}

// methodFunc handles one JSON-RPC method. A nil result with a nil error
// means no response is written.
type methodFunc func(ctx context.Context, params json.RawMessage) (any, *Error)

// NewServer creates a new MCP server
func NewServer(deps Dependencies, config ServerConfig) *Server {
	s := &Server{
		logger:  log.Logger("mcp"),
		handler: NewHandler(deps),
		name:    config.Name,
		version: config.Version,
		tenant:  config.Tenant,
	}
	s.methods = map[string]methodFunc{
		"initialize":                s.initialize,
		"initialized":               s.initialized,
		"notifications/initialized": s.initialized,
		"tools/list":                s.toolsList,
		"tools/call":                s.toolsCall,
		"ping":                      s.ping,
	}
	return s
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// notification reports whether the request expects no response.
func (r *jsonRPCRequest) notification() bool {
	return r.ID == nil
}

type jsonRPCResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// RunStdio serves on stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting stdio server", "name", s.name, "version", s.version, "tenant", s.tenant)
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC requests from r and writes the
// responses to w until r is exhausted or ctx is done. Blank lines are
// skipped.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			s.dispatch(ctx, line, w)
		}
		if errors.Is(err, io.EOF) {
			s.logger.Info("input closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}
	}
}

// dispatch handles one request line.
func (s *Server) dispatch(ctx context.Context, line []byte, w io.Writer) {
	var req jsonRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(w, &jsonRPCResponse{
			JSONRPC: "2.0",
			Error:   &Error{Code: codeParseError, Message: "Parse error", Data: err.Error()},
		})
		return
	}

	method, ok := s.methods[req.Method]
	if !ok {
		if req.notification() {
			s.logger.Debug("unknown notification", "method", req.Method)
			return
		}
		s.write(w, &jsonRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &Error{Code: codeMethodNotFound, Message: "Method not found", Data: req.Method},
		})
		return
	}

	result, rpcErr := method(ctx, req.Params)
	if req.notification() || (result == nil && rpcErr == nil) {
		return
	}
	s.write(w, &jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) initialize(_ context.Context, params json.RawMessage) (any, *Error) {
	var p initializeParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}

	s.logger.Info("initialize",
		"client", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocol", p.ProtocolVersion,
	)

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{"tools": map[string]any{}},
		ServerInfo:      serverInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) initialized(context.Context, json.RawMessage) (any, *Error) {
	s.logger.Info("initialized")
	return nil, nil
}

func (s *Server) toolsList(context.Context, json.RawMessage) (any, *Error) {
	return toolsListResult{Tools: DocumentTools}, nil
}

func (s *Server) ping(context.Context, json.RawMessage) (any, *Error) {
	return map[string]any{}, nil
}

// toolsCall runs a tool. Calls without a tenant argument run against the
// server's tenant.
func (s *Server) toolsCall(ctx context.Context, params json.RawMessage) (any, *Error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	args, tenant, err := s.scopeArguments(p.Arguments)
	if err != nil {
		return nil, &Error{Code: codeInvalidParams, Message: "Invalid params", Data: err.Error()}
	}

	s.logger.Info("tools/call", "tool", p.Name, "tenant", tenant)

	return s.handler.HandleToolCall(ctx, ToolCallRequest{Name: p.Name, Arguments: args}), nil
}

// scopeArguments fills in the server tenant when the arguments omit one and
// returns the tenant the call runs as.
func (s *Server) scopeArguments(raw json.RawMessage) (json.RawMessage, string, error) {
	args := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, "", fmt.Errorf("arguments must be an object: %w", err)
		}
	}

	tenant, _ := args["tenant"].(string)
	if tenant == "" && s.tenant != "" {
		tenant = s.tenant
		args["tenant"] = tenant
	}

	scoped, err := json.Marshal(args)
	if err != nil {
		return nil, "", err
	}
	return scoped, tenant, nil
}

// write writes one response line.
func (s *Server) write(w io.Writer, resp *jsonRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response failed", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		s.logger.Error("write error", "error", err)
	}
}
