// Package config handles configuration loading for calories-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. A .env file in the working directory is loaded first. Missing
// files are allowed; every field has a default.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CALORIES_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/calories/gateway.yaml
//  3. ~/.config/calories/gateway.yaml
//
// Files ending in .toml are decoded as TOML.
//
// # Environment Variables
//
// Values can reference the environment:
//
//	auth:
//	  jwt_secret: "${CALORIES_JWT_SECRET}"
//
// The deployment variables MCP_PORT, BASE_URL, DATABASE_URL and
// DATABASE_DRIVER override the file.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8787"
//	  grpc_addr: ""                # optional gRPC health service
//	  base_url: "https://calories.onlydating.me"
//
//	database:
//	  driver: "sqlite"             # sqlite, sqlite3, mysql
//	  dsn: "calories.db"
//
//	auth:
//	  approval: "auto"             # auto, strict
//	  jwt_secret: ""               # issue JWT access tokens when set
//	  access_token_ttl: "1h"
//	  require_bearer: false
//
//	transport:
//	  heartbeat_interval: "30s"
//
//	analysis:
//	  base_url: ""                 # AI analysis service, optional
//	  timeout: "10s"
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
