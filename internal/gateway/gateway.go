// ABOUTME: Gateway orchestrator that wires the store, nutrition engine, MCP transport and OAuth server
// ABOUTME: Manages the HTTP server, the optional gRPC health server and tailscale listeners

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/calories-gateway/internal/analysis"
	"github.com/2389/calories-gateway/internal/auth"
	"github.com/2389/calories-gateway/internal/config"
	"github.com/2389/calories-gateway/internal/mcp"
	"github.com/2389/calories-gateway/internal/nutrition"
	"github.com/2389/calories-gateway/internal/oauth"
	"github.com/2389/calories-gateway/internal/store"
	"github.com/2389/calories-gateway/internal/tools"
)

// Version is reported in the MCP initialize result.
const Version = "1.0.0"

// ServerName is reported in the MCP initialize result.
const ServerName = "calories-tracker"

// Gateway orchestrates the calories-gateway server components.
type Gateway struct {
	config      *config.Config
	store       store.Store
	engine      *nutrition.Engine
	oauthServer *oauth.Server
	mcpServer   *mcp.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// grpcServer and healthServer are nil unless server.grpc_addr is set
	grpcServer   *grpc.Server
	healthServer *health.Server
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	gw := &Gateway{
		config: cfg,
		store:  s,
		logger: logger.With("component", "gateway"),
	}

	gw.engine = newEngine(cfg, s, logger)

	registry := tools.NewRegistry(logger, tools.CalorieTools(gw.engine)...)
	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Tools:      registry,
		ServerInfo: mcp.ServerInfo{Name: ServerName, Version: Version},
		Logger:     logger.With("component", "dispatcher"),
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	var jwtVerifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		jwtVerifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Server.BaseURL)
	}

	oauthRegistry := oauth.NewRegistry(oauth.RegistryConfig{
		JWT:            jwtVerifier,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
		Logger:         logger.With("component", "oauth"),
	})
	gw.oauthServer, err = oauth.NewServer(oauth.Config{
		Registry: oauthRegistry,
		Policy:   approvalPolicy(cfg.Auth.Approval),
		BaseURL:  cfg.Server.BaseURL,
		Logger:   logger.With("component", "oauth"),
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating OAuth server: %w", err)
	}

	verifier := auth.ChainVerifier{oauthRegistry}
	if jwtVerifier != nil {
		verifier = auth.ChainVerifier{jwtVerifier, oauthRegistry}
	}

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Dispatcher:          dispatcher,
		Logger:              logger.With("component", "mcp"),
		HeartbeatInterval:   cfg.Transport.HeartbeatInterval,
		Verifier:            verifier,
		RequireAuth:         cfg.Auth.RequireBearer,
		ResourceMetadataURL: gw.oauthServer.ResourceMetadataURL,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.oauthServer.RegisterRoutes(mux)
	gw.mcpServer.RegisterRoutes(mux)

	if cfg.Auth.RequireBearer {
		logger.Info("bearer auth required on MCP endpoints")
	} else {
		logger.Warn("MCP endpoints accept unauthenticated requests (auth.require_bearer is false)")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           withMiddleware(mux, cfg.CORS.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.healthServer = newHealthGRPCServer()
	}

	return gw, nil
}

// newEngine builds the nutrition engine, attaching the analysis client when configured.
func newEngine(cfg *config.Config, s store.Store, logger *slog.Logger) *nutrition.Engine {
	opts := []nutrition.Option{nutrition.WithLogger(logger.With("component", "nutrition"))}
	if cfg.Analysis.BaseURL != "" {
		client := analysis.NewClient(analysis.Config{
			BaseURL: cfg.Analysis.BaseURL,
			Timeout: cfg.Analysis.Timeout,
			Logger:  logger.With("component", "analysis"),
		})
		opts = append(opts, nutrition.WithAnalyzer(client))
		logger.Info("analysis service enabled", "base_url", cfg.Analysis.BaseURL)
	}
	return nutrition.NewEngine(s, opts...)
}

func approvalPolicy(mode string) oauth.ApprovalPolicy {
	if mode == config.ApprovalStrict {
		return oauth.RegisteredClients{}
	}
	return oauth.AutoApprove{}
}

// withMiddleware wraps the mux with request ids, real IPs, panic recovery and CORS.
func withMiddleware(h http.Handler, allowedOrigins []string) http.Handler {
	return chi.Chain(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"WWW-Authenticate"},
			MaxAge:         300,
		}),
	).Handler(h)
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
		"base_url", g.config.Server.BaseURL,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if addr := g.config.Server.HTTPAddr; addr != "" && addr != config.DefaultHTTPAddr {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", addr)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the Run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Open SSE streams are ended first so the HTTP server can drain.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.mcpServer.Close()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
