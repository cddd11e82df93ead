// Package config loads the gateway's YAML configuration.
//
// Secrets never live in the file: each one is referenced by the name of the
// environment variable that holds it (jwt_secret_env, api_key_env,
// database_url_env, url_env, authtoken_env).
//
// Example:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	  allowed_origins: ["https://planner.example.com"]
//	auth:
//	  jwt_secret_env: JWT_SECRET
//	  handshake_timeout: 10s
//	realtime:
//	  membership_timeout: 5s
//	permissions:
//	  base_allowed: [rsvp:updated, item:assigned, item:completed, chat:message]
//	audit:
//	  sink: both
//	redis:
//	  url_env: REDIS_URL
//	store:
//	  driver: postgres
//	  database_url_env: DATABASE_URL
//
// Watch reloads the file on change; the server applies permission changes
// to live connections without a restart.
package config
