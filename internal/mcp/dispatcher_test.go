// ABOUTME: Tests for JSON-RPC method dispatch and batch handling
// ABOUTME: Uses a fake tool registry so results are independent of the nutrition engine

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/calories-gateway/internal/tools"
)

// fakeTools implements ToolRegistry for testing.
type fakeTools struct {
	defs     []tools.Definition
	lastName string
	lastArgs json.RawMessage
	result   tools.Result
}

func (f *fakeTools) Definitions() []tools.Definition { return f.defs }

func (f *fakeTools) Call(_ context.Context, name string, args json.RawMessage) tools.Result {
	f.lastName = name
	f.lastArgs = args
	return f.result
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTools) {
	t.Helper()
	ft := &fakeTools{
		defs: []tools.Definition{
			{Name: "alpha", Description: "first", InputSchema: json.RawMessage(`{"type":"object"}`)},
			{Name: "beta", Description: "second", InputSchema: json.RawMessage(`{"type":"object"}`)},
		},
		result: tools.Result{Payload: map[string]any{"ok": true, "note": "<b>&</b>"}},
	}
	d, err := NewDispatcher(DispatcherConfig{Tools: ft})
	require.NoError(t, err)
	return d, ft
}

// decode marshals a response and decodes it generically for assertions.
func decode(t *testing.T, v any) map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNewDispatcher_RequiresTools(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{})
	require.Error(t, err)
}

func TestDispatch_Initialize(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.Nil(t, resp.Error)

	out := decode(t, resp)
	assert.Equal(t, float64(1), out["id"])
	result := out["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
	assert.Equal(t, map[string]any{"tools": map[string]any{}}, result["capabilities"])
	assert.Equal(t, map[string]any{"name": "calories-tracker", "version": "1.0.0"}, result["serverInfo"])
}

func TestDispatch_ToolsListOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{ID: json.RawMessage(`"a"`), Method: "tools/list"})
	require.Nil(t, resp.Error)

	result := resp.Result.(MCPListToolsResult)
	require.Len(t, result.Tools, 2)
	assert.Equal(t, "alpha", result.Tools[0].Name)
	assert.Equal(t, "beta", result.Tools[1].Name)
	assert.JSONEq(t, `{"type":"object"}`, string(result.Tools[0].InputSchema))
}

func TestDispatch_ToolsCall(t *testing.T) {
	d, ft := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{
		ID:     json.RawMessage(`7`),
		Method: "tools/call",
		Params: json.RawMessage(`{"name":"alpha","arguments":{"x":1}}`),
	})
	require.Nil(t, resp.Error)

	assert.Equal(t, "alpha", ft.lastName)
	assert.JSONEq(t, `{"x":1}`, string(ft.lastArgs))

	result := resp.Result.(MCPCallToolResult)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "{\n  \"note\": \"<b>&</b>\",\n  \"ok\": true\n}", result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestDispatch_ToolsCallErrorResult(t *testing.T) {
	d, ft := newTestDispatcher(t)
	ft.result = tools.Result{Payload: map[string]string{"error": "boom"}, IsError: true}

	resp := d.Dispatch(context.Background(), JSONRPCRequest{
		ID:     json.RawMessage(`1`),
		Method: "tools/call",
		Params: json.RawMessage(`{"name":"alpha"}`),
	})
	require.Nil(t, resp.Error)

	out := decode(t, resp)
	result := out["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
}

func TestDispatch_ToolsCallMissingName(t *testing.T) {
	d, _ := newTestDispatcher(t)

	tests := []struct {
		name   string
		params json.RawMessage
	}{
		{"no params", nil},
		{"empty name", json.RawMessage(`{"arguments":{}}`)},
		{"params not object", json.RawMessage(`[1,2]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), JSONRPCRequest{ID: json.RawMessage(`1`), Method: "tools/call", Params: tt.params})
			require.NotNil(t, resp.Error)
			assert.Equal(t, JSONRPCInvalidParams, resp.Error.Code)
		})
	}
}

func TestDispatch_PingAndNotifications(t *testing.T) {
	d, _ := newTestDispatcher(t)

	for _, method := range []string{"ping", "notifications/initialized"} {
		resp := d.Dispatch(context.Background(), JSONRPCRequest{ID: json.RawMessage(`3`), Method: method})
		require.Nil(t, resp.Error, method)
		out := decode(t, resp)
		assert.Equal(t, map[string]any{}, out["result"], method)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{ID: json.RawMessage(`9`), Method: "resources/list"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Unknown method: resources/list", resp.Error.Message)
	assert.Equal(t, json.RawMessage(`9`), resp.ID)

	var rpcErr *JSONRPCError
	assert.True(t, errors.As(error(resp.Error), &rpcErr))
}

func TestDispatch_InvalidVersion(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{JSONRPC: "1.0", ID: json.RawMessage(`1`), Method: "ping"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
}

func TestDispatch_NullIDMarshalsAsNull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), JSONRPCRequest{Method: "ping"})
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"result":{}}`, string(data))
}

func TestDispatchBatch_PreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	batch := []json.RawMessage{
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"ping"}`),
		json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`),
		json.RawMessage(`{"jsonrpc":"2.0","id":3,"method":"nope"}`),
		json.RawMessage(`42`),
		json.RawMessage(`{"jsonrpc":"2.0","id":"s","method":17}`),
		json.RawMessage(`{"jsonrpc":"2.0","id":6}`),
	}

	responses := d.DispatchBatch(context.Background(), batch)
	require.Len(t, responses, 6)

	assert.Equal(t, json.RawMessage(`1`), responses[0].ID)
	assert.Nil(t, responses[0].Error)
	assert.Equal(t, json.RawMessage(`2`), responses[1].ID)
	assert.Nil(t, responses[1].Error)
	assert.Equal(t, JSONRPCMethodNotFound, responses[2].Error.Code)
	assert.Nil(t, responses[3].ID)
	assert.Equal(t, JSONRPCInvalidRequest, responses[3].Error.Code)
	assert.Equal(t, json.RawMessage(`"s"`), responses[4].ID)
	assert.Equal(t, JSONRPCInvalidRequest, responses[4].Error.Code)
	assert.Equal(t, json.RawMessage(`6`), responses[5].ID)
	assert.Equal(t, JSONRPCInvalidRequest, responses[5].Error.Code)
}
