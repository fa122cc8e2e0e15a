// Package config handles configuration loading for metasave.
//
// # Overview
//
// Configuration is loaded from YAML files, or TOML files when the name ends
// in .toml, with environment variable expansion. The package provides
// validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from METASAVE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/metasave/config.yaml
//  3. ~/.config/metasave/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${METASAVE_JWT_SECRET}"
//
// METASAVE_DB_PATH and METASAVE_DB_DRIVER override the database section.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  grpc_addr: "0.0.0.0:50061"
//	  http_addr: "0.0.0.0:8090"
//	  shutdown_timeout: "10s"
//
// Database:
//
//	database:
//	  driver: "sqlite"   # memory | sqlite | sqlite3 | leveldb
//	  path: "/var/lib/metasave/metasave.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${METASAVE_JWT_SECRET}"  # at least 32 bytes
//	  ssh_auth: true
//
// Genesis (applied once, at first start):
//
//	genesis:
//	  games:
//	    - name: fps
//	      id: 1
//	      authority: "alice"
//	      world:
//	        - { key: Time, int32: 1 }
//
// Logging:
//
//	logging:
//	  level: "info"    # debug | info | warn | error
//	  format: "text"   # text | json
package config
