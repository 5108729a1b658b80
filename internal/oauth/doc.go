// Package oauth implements the OAuth 2.0 authorization server MCP clients
// use to connect: discovery documents, dynamic client registration
// (RFC 7591), the authorization code grant and refresh.
//
// All state lives in a Registry for the lifetime of the process. Codes are
// single-use; RedeemCode looks up and deletes a code under one lock so
// concurrent exchanges of the same code yield exactly one token pair.
//
// Whether an authorization request is approved is decided by an
// ApprovalPolicy. AutoApprove grants everything and is the default.
// RegisteredClients checks the client, its redirect URIs and PKCE.
//
// The Registry also satisfies auth.TokenVerifier so the MCP routes can
// accept the tokens it issued.
package oauth
