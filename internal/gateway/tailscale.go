// ABOUTME: Joins the gateway to a tailnet with tsnet and serves MCP and OAuth over it
// ABOUTME: Adopts the node's MagicDNS name as the OAuth base URL when none is configured

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/calories-gateway/internal/config"
)

// tailnetGRPCAddr serves the gRPC health service on the tailnet.
const tailnetGRPCAddr = ":50051"

// tailnetExposure is how the HTTP side is published on the tailnet.
type tailnetExposure int

const (
	exposePlainHTTP tailnetExposure = iota // tailnet only, :80
	exposeTLS                              // tailnet only, :443 with tailscale certs
	exposeFunnel                           // public internet through Funnel, :443
)

func (e tailnetExposure) String() string {
	switch e {
	case exposeTLS:
		return "https"
	case exposeFunnel:
		return "funnel"
	default:
		return "http"
	}
}

// exposureFor picks the HTTP exposure. Funnel wins over https.
func exposureFor(tsCfg config.TailscaleConfig) tailnetExposure {
	switch {
	case tsCfg.Funnel:
		return exposeFunnel
	case tsCfg.HTTPS:
		return exposeTLS
	default:
		return exposePlainHTTP
	}
}

// addr is the tsnet listen address for the exposure.
func (e tailnetExposure) addr() string {
	if e == exposePlainHTTP {
		return ":80"
	}
	return ":443"
}

// scheme is what MCP clients use to reach the exposure.
func (e tailnetExposure) scheme() string {
	if e == exposePlainHTTP {
		return "http"
	}
	return "https"
}

// tailnetBaseURL derives the public origin from the node's MagicDNS name.
// It returns "" while the node has no DNS name yet.
func tailnetBaseURL(status *ipnstate.Status, exposure tailnetExposure) string {
	if status == nil || status.Self == nil {
		return ""
	}
	host := strings.TrimSuffix(status.Self.DNSName, ".")
	if host == "" {
		return ""
	}
	return exposure.scheme() + "://" + host
}

// resolveTailscaleStateDir returns the tsnet state directory, defaulting under the user's data dir.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "calories-gateway", "tailscale"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "calories-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey prefers the configured key, then TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if key := os.Getenv("TS_AUTHKEY"); key != "" {
		return key, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// adoptTailnetBaseURL points OAuth discovery and bearer challenges at the
// tailnet name, unless server.base_url was set explicitly.
func (g *Gateway) adoptTailnetBaseURL(status *ipnstate.Status, exposure tailnetExposure) {
	if !g.config.Server.BaseURLDefaulted() {
		return
	}
	baseURL := tailnetBaseURL(status, exposure)
	if baseURL == "" {
		g.logger.Warn("tailscale node has no DNS name; keeping default base URL", "base_url", g.config.Server.BaseURL)
		return
	}
	if baseURL == g.oauthServer.BaseURL() {
		return
	}
	g.logger.Info("using tailnet name as OAuth base URL", "old", g.oauthServer.BaseURL(), "new", baseURL)
	g.oauthServer.SetBaseURL(baseURL)
}

// setupTailscaleListeners brings up the tsnet node and returns its listeners.
// grpcLn is nil when the gRPC health service is disabled.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale
	exposure := exposureFor(tsCfg)

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("joining tailnet", "hostname", tsCfg.Hostname, "exposure", exposure, "state_dir", stateDir)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tailnetIP string
	if len(status.TailscaleIPs) > 0 {
		tailnetIP = status.TailscaleIPs[0].String()
	}
	g.adoptTailnetBaseURL(status, exposure)
	g.logger.Info("tailnet node ready",
		"hostname", tsCfg.Hostname,
		"tailscale_ip", tailnetIP,
		"base_url", g.oauthServer.BaseURL(),
	)

	// closeAll releases whatever was opened before a later step failed
	var opened []net.Listener
	closeAll := func() {
		for _, ln := range opened {
			_ = ln.Close()
		}
		_ = g.tsnetServer.Close()
	}

	httpLn, err = g.listenTailnetHTTP(exposure)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	opened = append(opened, httpLn)

	if g.grpcServer != nil {
		grpcLn, err = g.tsnetServer.Listen("tcp", tailnetGRPCAddr)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("listening on tailnet gRPC port: %w", err)
		}
	}

	return grpcLn, httpLn, nil
}

// listenTailnetHTTP opens the HTTP listener for the chosen exposure.
func (g *Gateway) listenTailnetHTTP(exposure tailnetExposure) (net.Listener, error) {
	switch exposure {
	case exposeFunnel:
		ln, err := g.tsnetServer.ListenFunnel("tcp", exposure.addr())
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil

	case exposeTLS:
		ln, err := g.tsnetServer.Listen("tcp", exposure.addr())
		if err != nil {
			return nil, fmt.Errorf("listening on tailnet HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil

	default:
		ln, err := g.tsnetServer.Listen("tcp", exposure.addr())
		if err != nil {
			return nil, fmt.Errorf("listening on tailnet HTTP port: %w", err)
		}
		return ln, nil
	}
}
