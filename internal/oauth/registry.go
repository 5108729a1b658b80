// ABOUTME: In-memory OAuth registry holding registered clients, pending authorization codes and issued tokens
// ABOUTME: A single mutex guards all maps; codes are looked up and deleted in one critical section

package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/calories-gateway/internal/auth"
)

// DefaultAccessTokenTTL is the lifetime advertised as expires_in.
const DefaultAccessTokenTTL = time.Hour

// Token sizes in random bytes before base64url encoding.
const (
	clientIDBytes     = 16
	clientSecretBytes = 32
	codeBytes         = 32
	tokenBytes        = 32
)

// Client is a dynamically registered OAuth client.
type Client struct {
	ID                      string
	SecretHash              []byte
	Name                    string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	IssuedAt                time.Time
}

// CheckSecret reports whether secret matches the stored bcrypt hash.
func (c *Client) CheckSecret(secret string) bool {
	if len(c.SecretHash) == 0 || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.SecretHash, []byte(secret)) == nil
}

// ClientMetadata is the registration request body (RFC 7591).
type ClientMetadata struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Registration is returned once at registration; it is the only place the
// plaintext secret appears.
type Registration struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// AuthCode is a pending authorization grant.
type AuthCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	IssuedAt            time.Time
}

// TokenPair is the token endpoint success body.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type issuedToken struct {
	clientID  string
	expiresAt time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// JWT mints access tokens when set; otherwise tokens are opaque.
	JWT            *auth.JWTVerifier
	AccessTokenTTL time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Registry tracks clients, codes and tokens for the lifetime of the process.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
	codes   map[string]AuthCode
	access  map[string]issuedToken
	refresh map[string]string

	jwt    *auth.JWTVerifier
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		clients: make(map[string]*Client),
		codes:   make(map[string]AuthCode),
		access:  make(map[string]issuedToken),
		refresh: make(map[string]string),
		jwt:     cfg.JWT,
		ttl:     ttl,
		logger:  logger,
		now:     now,
	}
}

// Register creates a client. Redirect URIs are stored as given.
func (r *Registry) Register(meta ClientMetadata) (*Registration, error) {
	clientID, err := randomToken(clientIDBytes)
	if err != nil {
		return nil, err
	}
	secret, err := randomToken(clientSecretBytes)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing client secret: %w", err)
	}

	redirectURIs := meta.RedirectURIs
	if redirectURIs == nil {
		redirectURIs = []string{}
	}
	name := meta.ClientName
	if name == "" {
		name = "Claude"
	}
	grantTypes := meta.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{GrantAuthorizationCode, GrantRefreshToken}
	}
	responseTypes := meta.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}
	authMethod := meta.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = AuthMethodClientSecretPost
	}

	issuedAt := r.now()
	client := &Client{
		ID:                      clientID,
		SecretHash:              hash,
		Name:                    name,
		RedirectURIs:            redirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		IssuedAt:                issuedAt,
	}

	r.mu.Lock()
	r.clients[clientID] = client
	r.mu.Unlock()

	r.logger.Info("oauth client registered", "client_id", clientID, "client_name", name, "redirect_uris", len(redirectURIs))

	return &Registration{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        issuedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            redirectURIs,
		ClientName:              name,
		TokenEndpointAuthMethod: AuthMethodClientSecretPost,
		GrantTypes:              []string{GrantAuthorizationCode, GrantRefreshToken},
		ResponseTypes:           []string{"code"},
	}, nil
}

// Client returns a registered client by id.
func (r *Registry) Client(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// IssueCode stores a new authorization code for req.
func (r *Registry) IssueCode(req AuthorizeRequest) (string, error) {
	code, err := randomToken(codeBytes)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.codes[code] = AuthCode{
		Code:                code,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		IssuedAt:            r.now(),
	}
	r.mu.Unlock()

	return code, nil
}

// RedeemCode removes and returns a pending code. Of any number of concurrent
// callers with the same code, exactly one succeeds.
func (r *Registry) RedeemCode(code string) (AuthCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ac, ok := r.codes[code]
	if !ok {
		return AuthCode{}, ErrInvalidGrant
	}
	delete(r.codes, code)
	return ac, nil
}

// PendingCodes reports the number of unredeemed codes.
func (r *Registry) PendingCodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// IssueTokens mints a new access/refresh pair for clientID.
func (r *Registry) IssueTokens(clientID, scope string) (*TokenPair, error) {
	var access string
	var err error
	if r.jwt != nil {
		access, err = r.jwt.Generate(clientID, scope, r.ttl)
		if err != nil {
			return nil, fmt.Errorf("signing access token: %w", err)
		}
	} else {
		access, err = randomToken(tokenBytes)
		if err != nil {
			return nil, err
		}
	}
	refresh, err := randomToken(tokenBytes)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.access[access] = issuedToken{clientID: clientID, expiresAt: r.now().Add(r.ttl)}
	r.refresh[refresh] = clientID
	r.mu.Unlock()

	return &TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(r.ttl / time.Second),
		RefreshToken: refresh,
	}, nil
}

// Refresh issues a new pair for any refresh token. Known tokens keep their
// client; unknown tokens are attributed to fallbackClientID. Earlier tokens
// remain valid.
func (r *Registry) Refresh(refreshToken, fallbackClientID string) (*TokenPair, error) {
	r.mu.Lock()
	clientID, ok := r.refresh[refreshToken]
	r.mu.Unlock()
	if !ok {
		clientID = fallbackClientID
	}
	return r.IssueTokens(clientID, "")
}

// Verify implements auth.TokenVerifier for tokens this registry issued.
func (r *Registry) Verify(token string) (string, error) {
	r.mu.Lock()
	issued, ok := r.access[token]
	r.mu.Unlock()

	if !ok {
		return "", auth.ErrInvalidToken
	}
	if r.now().After(issued.expiresAt) {
		return "", auth.ErrExpiredToken
	}
	return issued.clientID, nil
}

// randomToken returns n random bytes encoded as unpadded base64url.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

var _ auth.TokenVerifier = (*Registry)(nil)
