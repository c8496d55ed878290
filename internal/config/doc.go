// Package config handles configuration loading for marvify-gateway.
//
// Configuration is read from a YAML file, or a TOML file when the path ends
// in ".toml". Values may reference environment variables with ${VAR_NAME}.
//
//	server:
//	  http_addr: "localhost:4000"
//
//	database:
//	  driver: "sqlite"          # sqlite (pure Go), sqlite3 (cgo) or mongo
//	  path: "/var/lib/marvify/marvify.db"
//	  mongo_uri: "${MONGODB_URI}"
//
//	auth:
//	  jwt_secret: "${MARVIFY_JWT_SECRET}"
//	  token_ttl: "720h"
//
//	stream:
//	  heartbeat_interval: "30s"
//
//	media:
//	  dir: "/var/lib/marvify/media"
//	  base_url: "/media"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Durations use time.ParseDuration syntax. Empty fields get defaults before
// Validate runs.
package config
