package realtime

import (
	"context"
	"encoding/json"
)

// BroadcastToRoom delivers event to every connection in room. When
// excludeUserID is set, connections owned by that user are skipped. It returns
// the number of connections the frame was queued to; an empty or unknown room
// is not an error.
func (s *Service) BroadcastToRoom(ctx context.Context, room RoomID, event string, payload json.RawMessage, excludeUserID string) (int, error) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.exec(ctx, func() {
		n = s.fanOut(room, event, frame, excludeUserID, "")
	})
	return n, err
}

// NotifyUser delivers a notification to every connection userID holds,
// whatever rooms they are in. A timestamp is merged into object payloads.
func (s *Service) NotifyUser(ctx context.Context, userID string, payload json.RawMessage) (int, error) {
	data, err := withTimestamp(payload, s.now().UTC())
	if err != nil {
		return 0, err
	}
	frame, err := encodeFrame(EventNotification, data)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.exec(ctx, func() {
		for _, c := range s.reg.userConns(userID) {
			if s.deliver(c, frame) {
				n++
			}
		}
		s.metrics.Delivered(EventNotification, n)
	})
	return n, err
}

// broadcastLocked encodes data once and fans it out. Reactor only.
func (s *Service) broadcastLocked(room RoomID, event string, data any, excludeUserID, excludeConnID string) int {
	if len(s.reg.rooms[room]) == 0 {
		return 0
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.logger.Error("encode broadcast", "event", event, "room", string(room), "err", err)
		return 0
	}
	return s.fanOut(room, event, frame, excludeUserID, excludeConnID)
}

// fanOut queues frame to the members of room, skipping connections owned by
// excludeUserID and the single connection excludeConnID.
func (s *Service) fanOut(room RoomID, event string, frame []byte, excludeUserID, excludeConnID string) int {
	n := 0
	for _, c := range s.reg.members(room) {
		if excludeUserID != "" && c.UserID == excludeUserID {
			continue
		}
		if c.ID == excludeConnID {
			continue
		}
		if s.deliver(c, frame) {
			n++
		}
	}
	s.metrics.Delivered(event, n)
	return n
}

// sendLocked delivers a single event to c. Reactor only.
func (s *Service) sendLocked(c *Connection, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.logger.Error("encode frame", "event", event, "conn_id", c.ID, "err", err)
		return
	}
	if s.deliver(c, frame) {
		s.metrics.Delivered(event, 1)
	}
}

// deliver queues frame on c's peer. A full peer is scheduled for teardown
// once the current command finishes.
func (s *Service) deliver(c *Connection, frame []byte) bool {
	if c.peer.Send(frame) {
		return true
	}
	s.dropped = append(s.dropped, c.ID)
	return false
}
