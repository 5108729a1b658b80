// ABOUTME: HTTP handlers for OAuth discovery, dynamic client registration, authorization and token exchange
// ABOUTME: All advertised URLs derive from the configured public base URL

package oauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

// maxBodySize bounds registration and token request bodies.
const maxBodySize = 64 << 10

// Scope advertised in discovery documents.
const Scope = "mcp"

// Endpoint paths
const (
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
	RegisterPath                    = "/oauth/register"
	AuthorizePath                   = "/oauth/authorize"
	TokenPath                       = "/oauth/token"
)

// AuthorizationServerMetadata is the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

// ProtectedResourceMetadata is the RFC 9728 resource document.
type ProtectedResourceMetadata struct {
	Resource             string   `json:"resource"`
	AuthorizationServers []string `json:"authorization_servers"`
	ScopesSupported      []string `json:"scopes_supported"`
}

// Config holds configuration for the OAuth server.
type Config struct {
	Registry *Registry
	// Policy defaults to AutoApprove.
	Policy  ApprovalPolicy
	BaseURL string
	Logger  *slog.Logger
}

// Server serves the OAuth endpoints.
type Server struct {
	registry *Registry
	policy   ApprovalPolicy
	baseURL  atomic.Pointer[string]
	logger   *slog.Logger
}

// NewServer creates an OAuth server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	policy := cfg.Policy
	if policy == nil {
		policy = AutoApprove{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		registry: cfg.Registry,
		policy:   policy,
		logger:   logger,
	}
	s.SetBaseURL(cfg.BaseURL)
	return s, nil
}

// BaseURL returns the public origin every advertised URL derives from.
func (s *Server) BaseURL() string {
	return *s.baseURL.Load()
}

// SetBaseURL changes the public origin, e.g. once the tailnet DNS name is known.
func (s *Server) SetBaseURL(baseURL string) {
	u := strings.TrimRight(baseURL, "/")
	s.baseURL.Store(&u)
}

// RegisterRoutes registers the OAuth endpoints on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+AuthorizationServerMetadataPath, s.handleServerMetadata)
	mux.HandleFunc("GET "+ProtectedResourceMetadataPath, s.handleResourceMetadata)
	mux.HandleFunc("POST "+RegisterPath, s.handleRegister)
	mux.HandleFunc("GET "+AuthorizePath, s.handleAuthorize)
	mux.HandleFunc("POST "+TokenPath, s.handleToken)
}

// ResourceMetadataURL is the absolute URL of the protected-resource document.
func (s *Server) ResourceMetadataURL() string {
	return s.BaseURL() + ProtectedResourceMetadataPath
}

// ServerMetadata returns the authorization server discovery document.
func (s *Server) ServerMetadata() AuthorizationServerMetadata {
	base := s.BaseURL()
	return AuthorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + AuthorizePath,
		TokenEndpoint:                     base + TokenPath,
		RegistrationEndpoint:              base + RegisterPath,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantRefreshToken},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256, PKCEMethodPlain},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodClientSecretPost, AuthMethodNone},
		ScopesSupported:                   []string{Scope},
	}
}

func (s *Server) handleServerMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ServerMetadata())
}

func (s *Server) handleResourceMetadata(w http.ResponseWriter, _ *http.Request) {
	base := s.BaseURL()
	writeJSON(w, http.StatusOK, ProtectedResourceMetadata{
		Resource:             base,
		AuthorizationServers: []string{base},
		ScopesSupported:      []string{Scope},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, describe(ErrInvalidClientMetadata, "failed to read request body"))
		return
	}

	meta, err := parseClientMetadata(body)
	if err != nil {
		writeError(w, describe(ErrInvalidClientMetadata, "malformed JSON body"))
		return
	}

	reg, err := s.registry.Register(meta)
	if err != nil {
		s.logger.Error("client registration failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, reg)
}

// parseClientMetadata reads registration fields leniently. Only syntactically
// invalid JSON is an error; a non-object body or a mistyped field falls back
// to the registry defaults.
func parseClientMetadata(body []byte) (ClientMetadata, error) {
	var meta ClientMetadata
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return meta, nil
	}
	if !json.Valid(body) {
		return meta, errors.New("invalid JSON")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return meta, nil
	}

	readField(fields, "redirect_uris", &meta.RedirectURIs)
	readField(fields, "client_name", &meta.ClientName)
	readField(fields, "grant_types", &meta.GrantTypes)
	readField(fields, "response_types", &meta.ResponseTypes)
	readField(fields, "token_endpoint_auth_method", &meta.TokenEndpointAuthMethod)
	return meta, nil
}

// readField decodes fields[key] into dst, leaving dst untouched when the value has another type.
func readField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	required := []struct{ name, value string }{
		{"response_type", req.ResponseType},
		{"client_id", req.ClientID},
		{"redirect_uri", req.RedirectURI},
	}
	for _, p := range required {
		if p.value == "" {
			writeError(w, describe(ErrInvalidRequest, "missing %s", p.name))
			return
		}
	}

	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		writeError(w, describe(ErrInvalidRequest, "invalid redirect_uri"))
		return
	}

	client, _ := s.registry.Client(req.ClientID)
	if err := s.policy.Approve(req, client); err != nil {
		s.logger.Info("authorization denied", "client_id", req.ClientID, "error", err)
		writeError(w, err)
		return
	}

	code, err := s.registry.IssueCode(req)
	if err != nil {
		s.logger.Error("issuing authorization code failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	params := target.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	target.RawQuery = params.Encode()

	s.logger.Info("authorization approved", "client_id", req.ClientID)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	var pair *TokenPair
	switch req.GrantType {
	case GrantAuthorizationCode:
		pair, err = s.exchangeCode(req)
	case GrantRefreshToken:
		pair, err = s.registry.Refresh(req.RefreshToken, req.ClientID)
	default:
		err = ErrUnsupportedGrantType
	}

	if err != nil {
		var oauthErr *Error
		if !errors.As(err, &oauthErr) {
			s.logger.Error("token request failed", "grant_type", req.GrantType, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
			return
		}
		s.logger.Info("token request rejected", "grant_type", req.GrantType, "error", err)
		writeError(w, oauthErr)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, pair)
}

// exchangeCode redeems a code and mints tokens. A code rejected by the
// policy is still consumed.
func (s *Server) exchangeCode(req TokenRequest) (*TokenPair, error) {
	code, err := s.registry.RedeemCode(req.Code)
	if err != nil {
		return nil, err
	}

	client, _ := s.registry.Client(code.ClientID)
	if err := s.policy.CheckExchange(code, req, client); err != nil {
		return nil, err
	}

	s.logger.Info("authorization code redeemed", "client_id", code.ClientID)
	return s.registry.IssueTokens(code.ClientID, code.Scope)
}

// parseTokenRequest accepts application/json or form-encoded bodies.
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (TokenRequest, error) {
	var req TokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, describe(ErrInvalidRequest, "malformed JSON body")
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, describe(ErrInvalidRequest, "malformed form body")
	}
	req = TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	}
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	var oauthErr *Error
	if !errors.As(err, &oauthErr) {
		oauthErr = describe(ErrInvalidRequest, "%v", err)
	}
	payload := map[string]string{"error": oauthErr.Code}
	if oauthErr.Description != "" {
		payload["error_description"] = oauthErr.Description
	}
	writeJSON(w, oauthErr.Status(), payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
