// ABOUTME: Tests for the MCP HTTP transport: SSE stream, handshakes, single and batch posts
// ABOUTME: Exercises the real tool registry backed by the in-memory meal store

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/calories-gateway/internal/auth"
	"github.com/2389/calories-gateway/internal/nutrition"
	"github.com/2389/calories-gateway/internal/store"
	"github.com/2389/calories-gateway/internal/tools"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *http.ServeMux) {
	t.Helper()
	engine := nutrition.NewEngine(store.NewMockStore())
	registry := tools.NewRegistry(nil, tools.CalorieTools(engine)...)

	d, err := NewDispatcher(DispatcherConfig{Tools: registry})
	require.NoError(t, err)

	cfg.Dispatcher = d
	s, err := NewServer(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s, mux
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)

	d, err := NewDispatcher(DispatcherConfig{Tools: &fakeTools{}})
	require.NoError(t, err)
	_, err = NewServer(Config{Dispatcher: d, RequireAuth: true})
	require.Error(t, err)
}

func TestPost_Handshakes(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	tests := []struct {
		name   string
		path   string
		body   string
		want   string
		status int
	}{
		{"empty body on sse", "/sse", "", `{"endpoint":"/sse","capabilities":{"tools":{}}}`, http.StatusOK},
		{"whitespace on messages", "/messages", "  \n", `{"endpoint":"/messages","capabilities":{"tools":{}}}`, http.StatusOK},
		{"empty object on messages", "/messages", "{}", `{"endpoint":"/messages","capabilities":{"tools":{}}}`, http.StatusOK},
		{"object without method", "/messages", `{"hello":"world"}`, `{"endpoint":"/messages"}`, http.StatusOK},
		{"invalid json on sse", "/sse", `{not json`, `{"endpoint":"/sse"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, mux, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestPost_InvalidJSONOnMessages(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCParseError, resp.Error.Code)
}

func TestPost_SingleRequest(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `{"jsonrpc":"2.0","id":"init-1","method":"initialize","params":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "init-1", out["id"])
	assert.Equal(t, "2024-11-05", out["result"].(map[string]any)["protocolVersion"])
}

func TestPost_UnknownMethodIs400(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/sse", `{"jsonrpc":"2.0","id":5,"method":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCMethodNotFound, resp.Error.Code)
	assert.Equal(t, json.RawMessage(`5`), resp.ID)
}

func TestPost_NotificationAcknowledged(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"result":{}}`, rec.Body.String())
}

func TestPost_BatchOrder(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","id":2,"method":"tools/list"}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 2)
	assert.Equal(t, float64(1), responses[0]["id"])
	assert.Equal(t, float64(2), responses[1]["id"])

	toolList := responses[1]["result"].(map[string]any)["tools"].([]any)
	assert.Len(t, toolList, 5)
}

func TestPost_BatchWithErrorsIs200(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `[{"jsonrpc":"2.0","id":1,"method":"bogus"},{"jsonrpc":"2.0","id":2,"method":"ping"}]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 2)
	require.NotNil(t, responses[0].Error)
	assert.Equal(t, JSONRPCMethodNotFound, responses[0].Error.Code)
	assert.Nil(t, responses[1].Error)
}

func TestPost_EmptyBatch(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `[]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
}

func TestPost_NonStringMethod(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	for _, path := range []string{"/messages", "/sse"} {
		t.Run(path, func(t *testing.T) {
			rec := post(t, mux, path, `{"jsonrpc":"2.0","id":1,"method":5}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp JSONRPCResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, JSONRPCInvalidRequest, resp.Error.Code)
			assert.Equal(t, json.RawMessage(`1`), resp.ID)
		})
	}
}

func TestPost_BodyTooLarge(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	body := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", MaxRequestBodySize) + `"}}`
	rec := post(t, mux, "/messages", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPost_AddMealThenToday(t *testing.T) {
	_, mux := newTestServer(t, Config{})

	rec := post(t, mux, "/messages", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"add_meal","arguments":{"meal_name":"Oatmeal","calories":350,"healthiness_score":12}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result MCPCallToolResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Content, 1)
	assert.False(t, resp.Result.IsError)

	var added map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &added))
	assert.Equal(t, true, added["success"])
	assert.Equal(t, "Meal 'Oatmeal' added successfully", added["message"])
	assert.Equal(t, float64(10), added["meal"].(map[string]any)["healthiness_score"])

	rec = post(t, mux, "/messages", `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_today_summary"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var today map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &today))
	assert.Equal(t, float64(1), today["total_meals"])
	assert.Equal(t, float64(350), today["total_calories"])
}

func TestPost_RequireAuth(t *testing.T) {
	verifier := auth.VerifierFunc(func(token string) (string, error) {
		if token == "good" {
			return "client-1", nil
		}
		return "", auth.ErrInvalidToken
	})
	_, mux := newTestServer(t, Config{
		Verifier:            verifier,
		RequireAuth:         true,
		ResourceMetadataURL: func() string { return "https://calories.test/.well-known/oauth-protected-resource" },
	})

	rec := post(t, mux, "/messages", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), `resource_metadata="https://calories.test/.well-known/oauth-protected-resource"`)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStream_EndpointThenPing(t *testing.T) {
	s, mux := newTestServer(t, Config{HeartbeatInterval: 20 * time.Millisecond})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	reader := bufio.NewReader(resp.Body)
	readLine := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return line
	}

	assert.Equal(t, "event: endpoint\n", readLine())
	assert.Equal(t, "data: /messages\n", readLine())
	assert.Equal(t, "\n", readLine())

	assert.Equal(t, "event: ping\n", readLine())
	assert.Equal(t, "data: \n", readLine())
	assert.Equal(t, "\n", readLine())

	assert.Equal(t, int64(1), s.OpenStreams())

	cancel()
	require.Eventually(t, func() bool { return s.OpenStreams() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStream_EndsOnClose(t *testing.T) {
	s, mux := newTestServer(t, Config{HeartbeatInterval: time.Hour})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: endpoint\n", line)

	s.Close()
	s.Close()

	require.Eventually(t, func() bool { return s.OpenStreams() == 0 }, time.Second, 10*time.Millisecond)
}
