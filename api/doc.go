// Package api provides the admin HTTP surface of the realtime gateway.
//
// Endpoints:
//
// Realtime administration (API key required when configured):
//   - GET /api/stats - Connection and room counts
//   - GET /api/rooms/{room}/members - Connections in a room ("trip:42" or "42")
//   - POST /api/rooms/{room}/broadcast - Server-side broadcast to a room
//   - POST /api/users/{id}/notify - Notification to every device of a user
//
// Infrastructure:
//   - GET /healthz - Liveness and dependency readiness
//   - GET /metrics - Prometheus exposition
//   - GET /ws - WebSocket upgrade for clients
//   - POST /mcp - MCP over HTTP (API key required when configured)
//
// Request/Response Format:
//
// Broadcast takes:
//
//	{
//	  "event": "trip-archived",
//	  "payload": {"by": "system"},
//	  "excludeUserId": "u1"
//	}
//
// Notify takes the notification payload itself as the body. Object payloads
// get a timestamp field added before delivery.
//
// Errors are returned as {"error": "message"} with a matching status code.
// CORS is handled by rs/cors using the server's allowed origins.
package api
