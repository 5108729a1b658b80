// ABOUTME: Entry point for the calories-gateway MCP server
// ABOUTME: Provides serve, init and health commands

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/calories-gateway/internal/config"
	"github.com/2389/calories-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _            _
  ___ __ _| | ___  _ __(_) ___  ___
 / __/ _' | |/ _ \| '__| |/ _ \/ __|
| (_| (_| | | (_) | |  | |  __/\__ \
 \___\__,_|_|\___/|_|  |_|\___||___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: calories-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve          Start the gateway server")
		fmt.Println("  init [PATH]    Write a default config file")
		fmt.Println("  health         Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		path := config.DefaultPath()
		if len(os.Args) > 2 {
			path = os.Args[2]
		}
		err = runInit(path)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := installLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("  ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("  ▶ ")
	fmt.Printf("Database: %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
	green.Print("  ▶ ")
	fmt.Printf("Base URL: %s\n", cfg.Server.BaseURL)

	if cfg.Tailscale.Enabled {
		green.Print("  ▶ ")
		fmt.Printf("Tailscale: %s", cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" [ephemeral]")
		}
		fmt.Println()
	} else {
		green.Print("  ▶ ")
		fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		green.Print("  ▶ ")
		fmt.Printf("gRPC:     %s\n", cfg.Server.GRPCAddr)
	}
	if !cfg.Auth.RequireBearer {
		yellow.Print("  ! ")
		fmt.Println("bearer auth disabled on MCP endpoints")
	}
	fmt.Println()

	logger.Info("starting calories-gateway", "version", version)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes the default configuration template to path unless a file is already there.
func runInit(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(config.DefaultYAML), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return checkHealth(ctx, http.DefaultClient, "http://"+cfg.Server.HTTPAddr)
}

// checkHealth calls GET /health on baseURL and fails on any non-200 answer.
func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
