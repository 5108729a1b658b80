// ABOUTME: Approval policies deciding which authorization requests and code exchanges are allowed
// ABOUTME: AutoApprove accepts everything; RegisteredClients checks clients, redirect URIs and PKCE

package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"slices"
)

// Grant types and token endpoint auth methods
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	AuthMethodClientSecretPost = "client_secret_post"
	AuthMethodNone             = "none"

	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// AuthorizeRequest holds the authorization endpoint query parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest holds the token endpoint parameters, from a form or JSON body.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

// ApprovalPolicy decides whether an authorization request is granted and
// whether a redeemed code may be exchanged for tokens. client is nil when
// the client id is not registered.
type ApprovalPolicy interface {
	Approve(req AuthorizeRequest, client *Client) error
	CheckExchange(code AuthCode, req TokenRequest, client *Client) error
}

// AutoApprove grants every request without checks.
type AutoApprove struct{}

// Approve always succeeds.
func (AutoApprove) Approve(AuthorizeRequest, *Client) error { return nil }

// CheckExchange always succeeds.
func (AutoApprove) CheckExchange(AuthCode, TokenRequest, *Client) error { return nil }

// RegisteredClients only approves registered clients on registered redirect
// URIs and enforces PKCE and client secrets at exchange time.
type RegisteredClients struct{}

// Approve rejects unknown clients, unregistered redirect URIs and
// unsupported response types or PKCE methods.
func (RegisteredClients) Approve(req AuthorizeRequest, client *Client) error {
	if client == nil {
		return describe(ErrUnauthorizedClient, "unknown client_id")
	}
	if req.ResponseType != "code" {
		return describe(ErrUnsupportedResponseType, "response_type must be code")
	}
	if !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		return describe(ErrInvalidRequest, "redirect_uri not registered")
	}
	if req.CodeChallenge != "" {
		switch req.CodeChallengeMethod {
		case "", PKCEMethodPlain, PKCEMethodS256:
		default:
			return describe(ErrInvalidRequest, "unsupported code_challenge_method")
		}
	}
	return nil
}

// CheckExchange verifies the exchange matches the original authorization.
func (RegisteredClients) CheckExchange(code AuthCode, req TokenRequest, client *Client) error {
	if client == nil {
		return describe(ErrInvalidClient, "unknown client")
	}
	if req.ClientID != "" && req.ClientID != code.ClientID {
		return describe(ErrInvalidGrant, "code was issued to another client")
	}
	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return describe(ErrInvalidGrant, "redirect_uri mismatch")
	}

	if code.CodeChallenge != "" {
		if !ValidatePKCE(req.CodeVerifier, code.CodeChallenge, code.CodeChallengeMethod) {
			return describe(ErrInvalidGrant, "code_verifier does not match")
		}
		return nil
	}

	// Without PKCE a confidential client must prove its secret.
	if client.TokenEndpointAuthMethod != AuthMethodNone && !client.CheckSecret(req.ClientSecret) {
		return describe(ErrInvalidClient, "client authentication failed")
	}
	return nil
}

// ValidatePKCE checks a code_verifier against the stored challenge. An empty
// method means plain.
func ValidatePKCE(verifier, challenge, method string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case "", PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	case PKCEMethodS256:
		h := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(h[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	}
	return false
}

var (
	_ ApprovalPolicy = AutoApprove{}
	_ ApprovalPolicy = RegisteredClients{}
)
