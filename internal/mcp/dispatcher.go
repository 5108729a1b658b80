// ABOUTME: JSON-RPC method dispatcher: initialize, tools/list, tools/call, ping and notifications
// ABOUTME: Batches are dispatched element by element and answered in input order

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/calories-gateway/internal/tools"
)

// ProtocolVersion is advertised in initialize results.
const ProtocolVersion = "2024-11-05"

// ToolRegistry is the subset of tools.Registry the dispatcher needs.
type ToolRegistry interface {
	Definitions() []tools.Definition
	Call(ctx context.Context, name string, args json.RawMessage) tools.Result
}

type methodHandler func(ctx context.Context, params json.RawMessage) (any, *JSONRPCError)

// Dispatcher routes JSON-RPC requests to method handlers.
type Dispatcher struct {
	tools      ToolRegistry
	serverInfo ServerInfo
	methods    map[string]methodHandler
	logger     *slog.Logger
}

// DispatcherConfig holds configuration for the Dispatcher.
type DispatcherConfig struct {
	Tools      ToolRegistry
	ServerInfo ServerInfo
	Logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher with a fixed method table.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := cfg.ServerInfo
	if info.Name == "" {
		info.Name = "calories-tracker"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	d := &Dispatcher{
		tools:      cfg.Tools,
		serverInfo: info,
		logger:     logger,
	}
	d.methods = map[string]methodHandler{
		"initialize": d.handleInitialize,
		"tools/list": d.handleToolsList,
		"tools/call": d.handleToolsCall,
		"ping":       d.handlePing,
	}
	return d, nil
}

// Dispatch handles a single request. The response always carries req.ID.
func (d *Dispatcher) Dispatch(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return errorResponse(req.ID, newError(JSONRPCInvalidRequest, "invalid JSON-RPC version"))
	}
	if req.Method == "" {
		return errorResponse(req.ID, newError(JSONRPCInvalidRequest, "method is required"))
	}

	d.logger.Debug("MCP request", "method", req.Method, "id", string(req.ID))

	handler, ok := d.methods[req.Method]
	if !ok {
		if strings.HasPrefix(req.Method, "notifications/") {
			d.logger.Debug("accepted MCP notification", "method", req.Method)
			return resultResponse(req.ID, struct{}{})
		}
		d.logger.Warn("unknown MCP method", "method", req.Method)
		return errorResponse(req.ID, newError(JSONRPCMethodNotFound, "Unknown method: %s", req.Method))
	}

	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return resultResponse(req.ID, result)
}

// DispatchBatch handles each raw element independently and returns one
// response per element, in order. Malformed elements get an error in place.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batch []json.RawMessage) []JSONRPCResponse {
	responses := make([]JSONRPCResponse, len(batch))
	for i, raw := range batch {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '{' {
			responses[i] = errorResponse(nil, newError(JSONRPCInvalidRequest, "batch element must be an object"))
			continue
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			responses[i] = errorResponse(extractID(raw), newError(JSONRPCInvalidRequest, "invalid request: %v", err))
			continue
		}
		responses[i] = d.Dispatch(ctx, req)
	}
	return responses
}

// extractID recovers the id of an element that otherwise failed to decode.
func extractID(raw json.RawMessage) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	return probe.ID
}

func (d *Dispatcher) handleInitialize(_ context.Context, _ json.RawMessage) (any, *JSONRPCError) {
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
		},
		ServerInfo: d.serverInfo,
	}, nil
}

func (d *Dispatcher) handlePing(_ context.Context, _ json.RawMessage) (any, *JSONRPCError) {
	return struct{}{}, nil
}

func (d *Dispatcher) handleToolsList(_ context.Context, _ json.RawMessage) (any, *JSONRPCError) {
	defs := d.tools.Definitions()
	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(defs)),
	}
	for i, def := range defs {
		result.Tools[i] = MCPToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
	}

	d.logger.Debug("tools/list", "count", len(defs))
	return result, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *JSONRPCError) {
	var p MCPCallToolParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, newError(JSONRPCInvalidParams, "invalid params")
		}
	}
	if p.Name == "" {
		return nil, newError(JSONRPCInvalidParams, "tool name is required")
	}

	res := d.tools.Call(ctx, p.Name, p.Arguments)

	text, err := marshalIndented(res.Payload)
	if err != nil {
		d.logger.Error("failed to encode tool result", "tool_name", p.Name, "error", err)
		return nil, newError(JSONRPCInternalError, "failed to encode tool result")
	}

	d.logger.Debug("tools/call complete", "tool_name", p.Name, "is_error", res.IsError)

	return MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: text}},
		IsError: res.IsError,
	}, nil
}

// marshalIndented renders v with two-space indentation and no HTML escaping.
func marshalIndented(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
