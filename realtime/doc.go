// Package realtime implements the live-update core of Group Planner.
//
// The realtime package implements:
//   - Authentication of connection handshakes (bearer header, token query
//     parameter or accessToken cookie)
//   - A connection registry and a room directory keyed by trip
//   - Room access control against trip membership and role
//   - Room broadcast with sender exclusion and per-user notification
//   - Idempotent disconnect and full shutdown
//
// Architecture:
//
// A Service owns all registry state on one goroutine (Run). Transports call
// Connect, Handle and Disconnect from their own goroutines; those methods
// perform collaborator lookups (token verification, user loading, membership)
// outside the reactor and then submit a closure that re-checks the
// connection still exists before mutating anything.
//
// Message Protocol:
//
// Every frame is {"event": name, "data": {...}}.
//   - Incoming: join-room, leave-room, update, ping
//   - Outgoing: connected, joined, left, updated, member-joined, member-left,
//     notification, error, pong
//
// Usage:
//
//	svc, err := realtime.NewService(realtime.Options{
//		Verifier: auth.NewJWT(secret, ""),
//		Users:    store,
//		Members:  store,
//		Audit:    audit.NewLogSink(logger),
//		Logger:   logger,
//	})
//	go svc.Run(ctx)
//
//	id, err := svc.Connect(ctx, handshake, peer)
//	svc.Handle(ctx, id, frame)
//	svc.Disconnect(id, "client closed")
package realtime
