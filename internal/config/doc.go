// Package config handles configuration loading for concierge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	gateway:
//	  token: "${CONCIERGE_GATEWAY_TOKEN}"
//
// # Configuration Sections
//
// Server and gateway:
//
//	server:
//	  http_addr: "localhost:8080"
//
//	gateway:
//	  url: "ws://localhost:18789/ws/gateway"
//	  token: "${CONCIERGE_GATEWAY_TOKEN}"
//	  client_id: "concierge-widget"
//	  session_key: "concierge:web"
//	  reconnect_delay: "5s"
//	  request_timeout: "120s"
//
// HTTP fallback path and mailbox:
//
//	hook:
//	  url: "https://agent.example.net/hooks/chat"
//	  secret: "${CONCIERGE_HOOK_SECRET}"
//	  require_secret: false
//
//	mailbox:
//	  ttl: "300s"
//
// Widget behavior:
//
//	widget:
//	  greeting: "Good day! How may I help you?"
//	  contact_line: "You can also reach us by email."
//	  poll_interval: "2s"
//	  poll_attempts: 30
//
// Transcripts, Tailscale serving, and logging:
//
//	database:
//	  path: "/var/lib/concierge/transcripts.db"
//
//	tailscale:
//	  enabled: false
//	  hostname: "concierge"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Duration values use Go's time.ParseDuration syntax.
//
// The gateway and hook sections are both optional. With neither configured
// the server still runs and answers every message from the demo responder.
package config
