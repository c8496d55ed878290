// Package gateway orchestrates the marvify-gateway server components.
//
// # Overview
//
// The gateway owns the message store, the live stream registry, the
// dispatcher that persists and pushes messages, the media uploader and the
// HTTP server in front of them.
//
// # HTTP API
//
//   - GET /api/messages/sse?token=... - live message stream (text/event-stream)
//   - POST /api/messages/send - multipart to_user_id, text, image
//   - GET|POST /api/messages/get?to_user_id=... - conversation history, marks seen
//   - GET /api/messages/recent?limit=N - messages addressed to the caller
//   - GET /media/* - uploaded images
//   - GET /health - liveness check
//   - GET /health/ready - readiness with the open stream count
//
// Message routes take a bearer token. The stream also accepts the token as
// a query parameter because browser event sources cannot set headers.
//
// Every JSON response is an envelope:
//
//	{"success": true, "message": "message sent", "data": {...}}
//
// # Stream Frames
//
//	event: connected
//	data: Connected to SSE endpoint
//
//	data: {"_id": "...", "from_user_id": {...}, "to_user_id": "...", "text": "hi"}
//
//	: heartbeat
//
// # Listeners
//
// The HTTP server listens on server.http_addr, or on a Tailscale node when
// tailscale.enabled is set (port 80, or 443 through Funnel).
//
// # Shutdown
//
// Shutdown closes every open stream, then stops the HTTP server, the
// Tailscale node and the store.
package gateway
