// ABOUTME: HTTP transport for MCP: an SSE stream on GET /sse and JSON-RPC over POST /sse and /messages
// ABOUTME: Streams announce the message endpoint then heartbeat until the peer or the server goes away

package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/calories-gateway/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// DefaultHeartbeatInterval is used when Config.HeartbeatInterval is zero.
const DefaultHeartbeatInterval = 30 * time.Second

// Route paths
const (
	StreamPath   = "/sse"
	MessagesPath = "/messages"
)

// Config holds configuration for the MCP transport.
type Config struct {
	Dispatcher        *Dispatcher
	Logger            *slog.Logger
	HeartbeatInterval time.Duration
	// Verifier checks bearer tokens when RequireAuth is set
	Verifier            auth.TokenVerifier
	RequireAuth         bool
	ResourceMetadataURL func() string
}

// Server serves the MCP HTTP endpoints.
type Server struct {
	dispatcher  *Dispatcher
	logger      *slog.Logger
	heartbeat   time.Duration
	verifier    auth.TokenVerifier
	requireAuth bool
	metadataURL func() string

	openStreams atomic.Int64
	done        chan struct{}
	closeOnce   sync.Once
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.RequireAuth && cfg.Verifier == nil {
		return nil, errors.New("token verifier required when auth is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	return &Server{
		dispatcher:  cfg.Dispatcher,
		logger:      logger,
		heartbeat:   heartbeat,
		verifier:    cfg.Verifier,
		requireAuth: cfg.RequireAuth,
		metadataURL: cfg.ResourceMetadataURL,
		done:        make(chan struct{}),
	}, nil
}

// RegisterRoutes registers the MCP endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+StreamPath, s.guard(http.HandlerFunc(s.handleStream)))
	mux.Handle("POST "+StreamPath, s.guard(s.postHandler(StreamPath)))
	mux.Handle("POST "+MessagesPath, s.guard(s.postHandler(MessagesPath)))
}

// OpenStreams reports the number of connected SSE streams.
func (s *Server) OpenStreams() int64 {
	return s.openStreams.Load()
}

// Close ends every open stream. It is safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Server) guard(h http.Handler) http.Handler {
	if !s.requireAuth {
		return h
	}
	return auth.RequireBearer(auth.BearerConfig{
		Verifier:            s.verifier,
		ResourceMetadataURL: s.metadataURL,
		Logger:              s.logger,
	})(h)
}

// handleStream keeps an SSE stream open, announcing the message endpoint
// first and then emitting a ping on every heartbeat tick.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	connID := uuid.New().String()
	open := s.openStreams.Add(1)
	defer s.openStreams.Add(-1)

	s.logger.Info("SSE stream opened", "conn_id", connID, "client_id", clientID(r), "open_streams", open)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSEEvent(w, "endpoint", MessagesPath); err != nil {
		s.logger.Debug("SSE write failed", "conn_id", connID, "error", err)
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE stream closed by peer", "conn_id", connID)
			return

		case <-s.done:
			s.logger.Info("SSE stream closed by server", "conn_id", connID)
			return

		case <-heartbeat.C:
			if err := writeSSEEvent(w, "ping", ""); err != nil {
				s.logger.Debug("SSE write failed", "conn_id", connID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// clientID returns the OAuth client behind an authenticated request, or "" when the bearer gate is off.
func clientID(r *http.Request) string {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return ac.Subject
	}
	return ""
}

// postHandler answers JSON-RPC posts. path is echoed in handshake replies.
func (s *Server) postHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handlePost(w, r, path)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request, path string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse(nil, newError(JSONRPCParseError, "failed to read request body")))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, newError(JSONRPCInvalidRequest, "request body too large")))
		return
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		s.writeJSON(w, http.StatusOK, handshakeResponse{Endpoint: path, Capabilities: toolsCapability()})
		return
	}

	if body[0] == '[' {
		s.handleBatch(w, r, body)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		if path == StreamPath {
			s.writeJSON(w, http.StatusOK, handshakeResponse{Endpoint: StreamPath})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, errorResponse(nil, newError(JSONRPCParseError, "invalid JSON")))
		return
	}

	if len(fields) == 0 {
		s.writeJSON(w, http.StatusOK, handshakeResponse{Endpoint: path, Capabilities: toolsCapability()})
		return
	}

	var method string
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse(extractID(body), newError(JSONRPCInvalidRequest, "method must be a string")))
			return
		}
	}
	if method == "" {
		s.writeJSON(w, http.StatusOK, handshakeResponse{Endpoint: path})
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse(extractID(body), newError(JSONRPCInvalidRequest, "invalid request: %v", err)))
		return
	}

	s.logger.Debug("MCP request", "method", req.Method, "client_id", clientID(r))
	resp := s.dispatcher.Dispatch(r.Context(), req)
	status := http.StatusOK
	if resp.Error != nil {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, body []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse(nil, newError(JSONRPCParseError, "invalid JSON")))
		return
	}
	if len(batch) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse(nil, newError(JSONRPCInvalidRequest, "empty batch")))
		return
	}

	s.logger.Debug("MCP batch", "size", len(batch))
	s.writeJSON(w, http.StatusOK, s.dispatcher.DispatchBatch(r.Context(), batch))
}

func toolsCapability() map[string]any {
	return map[string]any{"tools": map[string]any{}}
}

// writeSSEEvent writes a single SSE event with a raw data line.
func writeSSEEvent(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
