// Package config handles configuration loading for context-vault.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CONTEXT_VAULT_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/context-vault/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${VAULT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	grants:
//	  default_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Consent ledger database:
//
//	database:
//	  path: "/var/lib/context-vault/vault.db"
//
// Remote memory backend:
//
//	mem0:
//	  base_url: "https://api.basic.tech/mem0"
//	  api_key: "${MEM0_API_KEY}"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${VAULT_JWT_SECRET}"  # Required
//
// Grant timing:
//
//	grants:
//	  default_ttl: "24h"  # Applied when a grant has no explicit expiry
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Database path presence
//   - JWT secret presence
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/context-vault/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
