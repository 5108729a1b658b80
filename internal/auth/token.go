// ABOUTME: Bearer token verification and JWT access token issuance for the MCP endpoints
// ABOUTME: Uses HS256 signing with configurable secret; verifiers can be chained

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification.
// It returns the subject (the OAuth client id) the token was issued to.
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
}

// VerifierFunc adapts a function to TokenVerifier.
type VerifierFunc func(tokenString string) (string, error)

// Verify calls f.
func (f VerifierFunc) Verify(tokenString string) (string, error) {
	return f(tokenString)
}

// ChainVerifier accepts a token if any of its verifiers accepts it.
type ChainVerifier []TokenVerifier

// Verify tries each verifier in order and returns the first success.
// An expired token is reported as ErrExpiredToken even if later verifiers reject it.
func (c ChainVerifier) Verify(tokenString string) (string, error) {
	var expired bool
	for _, v := range c {
		if v == nil {
			continue
		}
		sub, err := v.Verify(tokenString)
		if err == nil {
			return sub, nil
		}
		if errors.Is(err, ErrExpiredToken) {
			expired = true
		}
	}
	if expired {
		return "", ErrExpiredToken
	}
	return "", ErrInvalidToken
}

// JWTVerifier issues and verifies HS256 signed access tokens
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
// issuer is set as "iss" on generated tokens and required on verified ones when non-empty.
func NewJWTVerifier(secret []byte, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: secret, issuer: issuer}
}

// Verify validates the token and extracts the client id from the "sub" claim
func (v *JWTVerifier) Verify(tokenString string) (subject string, err error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}

// Generate creates a signed access token for clientID valid for expiresIn.
func (v *JWTVerifier) Generate(clientID, scope string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": clientID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	if scope != "" {
		claims["scope"] = scope
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
