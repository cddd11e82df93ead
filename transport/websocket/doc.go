// Package websocket carries realtime connections over gorilla/websocket.
//
// Architecture:
//
// The Hub is an http.Handler. It collects the handshake metadata (headers,
// query, cookies, remote address, user agent) and hands it to the realtime
// service before upgrading. A rejected handshake is answered with 401 and
// never becomes a socket.
//
// Each accepted client gets two goroutines:
//   - readPump feeds inbound frames to the service one at a time, so frames
//     from a single client are always handled in order
//   - writePump drains the client's send queue and keeps the link alive
//     with pings
//
// Client implements realtime.Peer. Send never blocks: a full queue reports
// false and the service drops the client as a slow consumer.
//
// Usage:
//
//	hub := websocket.NewHub(svc, websocket.Options{AllowedOrigins: origins})
//	router.Handle("/ws", hub)
package websocket
