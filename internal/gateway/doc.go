// Package gateway orchestrates the calories-gateway server components.
//
// # Overview
//
// New builds every component from a config.Config:
//
//   - store: SQL meal store (sqlite, sqlite3 or mysql)
//   - nutrition.Engine: aggregation, with the analysis client when
//     analysis.base_url is set
//   - tools.Registry and mcp.Dispatcher: the five calorie tools
//   - mcp.Server: SSE stream and JSON-RPC POST endpoints
//   - oauth.Server: discovery, registration, authorize and token
//
// # HTTP Routes
//
//	GET  /health                                  liveness
//	GET  /health/ready                            store ping + open stream count
//	GET  /.well-known/oauth-authorization-server  OAuth metadata
//	GET  /.well-known/oauth-protected-resource    resource metadata
//	POST /oauth/register                          dynamic client registration
//	GET  /oauth/authorize                         authorization code grant
//	POST /oauth/token                             token exchange and refresh
//	GET  /sse                                     MCP event stream
//	POST /sse, POST /messages                     MCP JSON-RPC
//
// Every route passes through request id, real IP, panic recovery and CORS
// middleware.
//
// # Listeners
//
// By default the HTTP server listens on server.http_addr. With tailscale
// enabled the gateway joins the tailnet through tsnet and serves plain HTTP,
// HTTPS with tailscale certificates, or a public Funnel. When
// server.grpc_addr is set a gRPC server exposes grpc.health.v1.Health.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Run shuts down gracefully with a five second budget: SSE streams are
// ended, the HTTP and gRPC servers drain, then the store is closed.
package gateway
