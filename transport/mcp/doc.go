// Package mcp exposes the realtime admin API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool turns into one call against the
// admin REST API, so the same process or a remote one can serve it.
//
// MCP Tools:
//   - realtime_stats: connection and room counts
//   - room_members: connections in a trip room
//   - notify_user: notification to every device of a user
//   - broadcast_room: event to every connection in a trip room
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: client.HTTPHandler() mounted at /mcp
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080", mcp.WithAPIKey("x-api-key", key))
//	router.Handle("/mcp", client.HTTPHandler())
package mcp
