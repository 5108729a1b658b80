// ABOUTME: HTTP middleware for bearer token authentication on the MCP endpoints
// ABOUTME: Rejects with 401 and a WWW-Authenticate challenge pointing at the resource metadata

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerConfig configures RequireBearer.
type BearerConfig struct {
	Verifier TokenVerifier
	// ResourceMetadataURL returns the URL advertised in the WWW-Authenticate
	// challenge. It is called per rejection since the public origin can change
	// once a tailnet name is known.
	ResourceMetadataURL func() string
	Logger              *slog.Logger
}

// RequireBearer creates an HTTP middleware that rejects requests without a
// valid bearer token and adds the token subject to the request context.
func RequireBearer(cfg BearerConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metadataURL := cfg.ResourceMetadataURL
	if metadataURL == nil {
		metadataURL = func() string { return "" }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logger.Debug("bearer auth rejected", "path", r.URL.Path, "reason", errMsg)
				writeChallenge(w, metadataURL(), "", errMsg)
				return
			}

			subject, err := cfg.Verifier.Verify(token)
			if err != nil {
				desc := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					desc = "token expired"
				}
				logger.Info("bearer auth rejected", "path", r.URL.Path, "error", err)
				writeChallenge(w, metadataURL(), "invalid_token", desc)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{Subject: subject})))
		})
	}
}

func writeChallenge(w http.ResponseWriter, metadataURL, code, desc string) {
	challenge := "Bearer"
	var params []string
	if metadataURL != "" {
		params = append(params, `resource_metadata="`+metadataURL+`"`)
	}
	if code != "" {
		params = append(params, `error="`+code+`"`, `error_description="`+desc+`"`)
	}
	if len(params) > 0 {
		challenge += " " + strings.Join(params, ", ")
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	body := map[string]string{"error": "unauthorized", "error_description": desc}
	if code != "" {
		body["error"] = code
	}
	_ = json.NewEncoder(w).Encode(body)
}
