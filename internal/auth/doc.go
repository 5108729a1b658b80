// Package auth provides bearer token verification for calories-gateway.
//
// # Token Verification
//
// TokenVerifier maps an access token to the OAuth client id it was issued
// to. Two sources exist:
//
//   - JWT: when auth.jwt_secret is configured, access tokens are HS256 JWTs
//     minted by JWTVerifier.Generate and checked by JWTVerifier.Verify.
//   - Opaque: the OAuth registry remembers every token it issued and
//     satisfies TokenVerifier directly.
//
// ChainVerifier accepts a token if any verifier accepts it.
//
// # HTTP Middleware
//
//	RequireBearer(BearerConfig{Verifier: v, ResourceMetadataURL: oauthServer.ResourceMetadataURL})
//
// Rejected requests get 401 with a WWW-Authenticate challenge naming the
// protected-resource metadata document, so MCP clients can discover the
// authorization server. Accepted requests carry an AuthContext.
//
// Bearer enforcement is off unless auth.require_bearer is set.
package auth
