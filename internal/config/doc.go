// Package config handles configuration loading for authgate.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, then defaulted and validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AUTHGATE_CONFIG environment variable
//  2. ~/.config/authgate/gateway.yaml
//
// # Environment Variables
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${AUTHGATE_JWT_SECRET}"
//
// AUTHGATE_DB_PATH and AUTHGATE_JWT_SECRET, when set, override the file's
// database.path and auth.jwt_secret.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional
//
//	database:
//	  path: "/var/lib/authgate/authgate.db"
//
//	auth:
//	  jwt_secret: "${AUTHGATE_JWT_SECRET}"   # at least 32 bytes
//	  token_ttl: "1h"
//	  bcrypt_cost: 10
//
//	routes:                       # first match wins, unmatched paths are denied
//	  - pattern: "/auth/**"
//	    requirement: public
//	  - pattern: "/**"
//	    requirement: authenticated
//
//	cors:
//	  allowed_origins: ["http://localhost:3000"]
//	  allow_credentials: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// When routes is empty the gateway uses auth.DefaultRules.
package config
