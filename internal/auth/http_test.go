// ABOUTME: Tests for bearer authentication middleware
// ABOUTME: Covers token extraction, verification, challenges and context propagation

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testMetadataURL = "https://calories.test/.well-known/oauth-protected-resource"

func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *JWTVerifier) {
	t.Helper()
	verifier := NewJWTVerifier(testSecret, "")
	return RequireBearer(BearerConfig{Verifier: verifier, ResourceMetadataURL: func() string { return testMetadataURL }}), verifier
}

func TestRequireBearer_ValidToken(t *testing.T) {
	middleware, verifier := newTestMiddleware(t)
	token, _ := verifier.Generate("client-123", "mcp", time.Hour)

	var gotAuthCtx *AuthContext
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuthCtx = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if gotAuthCtx == nil {
		t.Fatal("expected AuthContext in context")
	}
	if gotAuthCtx.Subject != "client-123" {
		t.Errorf("expected subject 'client-123', got '%s'", gotAuthCtx.Subject)
	}
}

func TestRequireBearer_LowercaseScheme(t *testing.T) {
	middleware, verifier := newTestMiddleware(t)
	token, _ := verifier.Generate("client-123", "", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()

	middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
}

func TestRequireBearer_Rejections(t *testing.T) {
	middleware, verifier := newTestMiddleware(t)
	expired, _ := verifier.Generate("client-123", "", -time.Hour)

	tests := []struct {
		name        string
		header      string
		wantInBody  string
		wantErrCode bool
	}{
		{"missing header", "", "missing authorization header", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format", false},
		{"empty token", "Bearer ", "empty token", false},
		{"invalid token", "Bearer garbage", "invalid token", true},
		{"expired token", "Bearer " + expired, "token expired", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			})

			req := httptest.NewRequest(http.MethodPost, "/messages", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			middleware(handler).ServeHTTP(rec, req)

			if called {
				t.Error("handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
			challenge := rec.Header().Get("WWW-Authenticate")
			if !strings.Contains(challenge, `resource_metadata="`+testMetadataURL+`"`) {
				t.Errorf("challenge %q does not name resource metadata", challenge)
			}
			if tt.wantErrCode && !strings.Contains(challenge, `error="invalid_token"`) {
				t.Errorf("challenge %q missing invalid_token", challenge)
			}
			if !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantInBody)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header    string
		wantToken string
		wantErr   bool
	}{
		{"Bearer abc", "abc", false},
		{"BEARER abc", "abc", false},
		{"Bearer   padded  ", "padded", false},
		{"", "", true},
		{"Bearer", "", true},
		{"Token abc", "", true},
	}

	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		if (errMsg != "") != tt.wantErr {
			t.Errorf("extractBearerToken(%q) errMsg = %q, wantErr %v", tt.header, errMsg, tt.wantErr)
		}
		if token != tt.wantToken {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, token, tt.wantToken)
		}
	}
}
