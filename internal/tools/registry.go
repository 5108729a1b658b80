// ABOUTME: Tool registry mapping tool names to definitions and typed handlers
// ABOUTME: Lists tools in declaration order and turns handler errors into error payloads

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Handler executes a tool. args is the raw arguments object; the returned
// value is serialized as the tool result.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes a tool as advertised to clients.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Tool pairs a definition with its handler.
type Tool struct {
	Definition Definition
	Handler    Handler
}

// Result is the outcome of a tool call. IsError marks handler failures;
// an unknown tool name is reported in Payload with IsError false.
type Result struct {
	Payload any
	IsError bool
}

// Registry is an immutable, ordered set of tools.
type Registry struct {
	tools  []*Tool
	byName map[string]*Tool
	logger *slog.Logger
}

// NewRegistry builds a registry. Later tools with a duplicate name replace earlier ones.
func NewRegistry(logger *slog.Logger, tools ...*Tool) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		byName: make(map[string]*Tool, len(tools)),
		logger: logger.With("component", "tools"),
	}
	for _, t := range tools {
		if existing, ok := r.byName[t.Definition.Name]; ok {
			r.logger.Warn("duplicate tool name, replacing", "tool", t.Definition.Name)
			for i, old := range r.tools {
				if old == existing {
					r.tools[i] = t
				}
			}
		} else {
			r.tools = append(r.tools, t)
		}
		r.byName[t.Definition.Name] = t
	}
	return r
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, len(r.tools))
	for i, t := range r.tools {
		defs[i] = t.Definition
	}
	return defs
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Call invokes the named tool.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) Result {
	tool, ok := r.byName[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		return Result{Payload: errorPayload(fmt.Sprintf("Unknown tool: %s", name))}
	}

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	callID := uuid.New().String()
	start := time.Now()
	r.logger.Debug("tool call started", "tool", name, "call_id", callID)

	payload, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Warn("tool call failed",
			"tool", name,
			"call_id", callID,
			"duration", time.Since(start),
			"error", err,
		)
		return Result{Payload: errorPayload(err.Error()), IsError: true}
	}

	r.logger.Debug("tool call finished", "tool", name, "call_id", callID, "duration", time.Since(start))
	return Result{Payload: payload}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"error": msg}
}
