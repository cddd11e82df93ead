package realtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/Selina744/group-planner-sub000/audit"
)

// caller is the immutable identity of a connection, copied out of the
// reactor so membership checks can run without holding it.
type caller struct {
	connID     string
	user       UserSummary
	remoteAddr string
	userAgent  string
}

// Handle processes one inbound frame from connection id. Frames from the same
// connection must be handled sequentially, which the transport guarantees by
// reading on a single goroutine. Authorization failures are answered with an
// error event; internal failures drop the connection.
func (s *Service) Handle(ctx context.Context, id string, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling frame", "conn_id", id, "panic", r, "stack", string(debug.Stack()))
			s.fail(id, fmt.Errorf("%w: %v", ErrInternal, r))
		}
	}()

	who, err := s.touch(ctx, id)
	if err != nil {
		return
	}

	msg, err := DecodeInbound(frame)
	if err != nil {
		s.metrics.Inbound("invalid")
		s.replyError(ctx, id, "message", err)
		return
	}
	s.metrics.Inbound(msg.eventName())

	switch m := msg.(type) {
	case JoinRoom:
		err = s.join(ctx, who, m)
	case LeaveRoom:
		err = s.leave(ctx, who, m)
	case Update:
		err = s.update(ctx, who, m)
	case Ping:
		err = s.ping(ctx, who)
	default:
		err = fmt.Errorf("%w: unhandled message %T", ErrInternal, msg)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrConnectionGone), errors.Is(err, ErrShuttingDown), errors.Is(err, context.Canceled):
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrBadRequest):
		// already answered
	default:
		s.fail(id, err)
	}
}

// touch refreshes last activity and returns the caller's identity.
func (s *Service) touch(ctx context.Context, id string) (caller, error) {
	var who caller
	found := false
	err := s.exec(ctx, func() {
		c, ok := s.reg.get(id)
		if !ok {
			return
		}
		found = true
		c.LastActivity = s.now()
		who = caller{connID: c.ID, user: c.User, remoteAddr: c.RemoteAddr, userAgent: c.UserAgent}
	})
	if err != nil {
		return caller{}, err
	}
	if !found {
		return caller{}, ErrConnectionGone
	}
	return who, nil
}

func (s *Service) join(ctx context.Context, who caller, m JoinRoom) error {
	room, err := ParseRoomTarget(string(m.RoomTarget))
	if err != nil {
		s.replyError(ctx, who.connID, "join", err)
		return err
	}

	mctx, cancel := context.WithTimeout(ctx, s.membershipTimeout)
	ok, err := s.members.IsConfirmedMember(mctx, room.ResourceID(), who.user.ID)
	cancel()
	if err != nil || !ok {
		reason := "not a confirmed member"
		if err != nil {
			reason = "membership lookup failed"
			s.logger.Warn("membership check failed", "conn_id", who.connID, "room", string(room), "err", err)
		}
		return s.deny(ctx, who, "join", audit.KindUnauthorizedRoomAccess, map[string]any{
			"roomTarget": string(room),
			"reason":     reason,
		})
	}

	return s.withConn(ctx, who.connID, func(c *Connection) {
		now := s.now().UTC()
		added := s.reg.join(c.ID, room)
		s.sendLocked(c, EventJoined, roomAckEvent{
			RoomTarget: room,
			Message:    "Joined " + string(room),
			Timestamp:  now,
		})
		if added {
			s.updateGauges()
			s.broadcastLocked(room, EventMemberJoined, memberEvent{
				RoomTarget: room,
				User:       c.User.ref(),
				Timestamp:  now,
			}, "", c.ID)
		}
	})
}

func (s *Service) leave(ctx context.Context, who caller, m LeaveRoom) error {
	room, err := ParseRoomTarget(string(m.RoomTarget))
	if err != nil {
		s.replyError(ctx, who.connID, "leave", err)
		return err
	}
	return s.withConn(ctx, who.connID, func(c *Connection) {
		now := s.now().UTC()
		removed := s.reg.leave(c.ID, room)
		s.sendLocked(c, EventLeft, roomAckEvent{
			RoomTarget: room,
			Message:    "Left " + string(room),
			Timestamp:  now,
		})
		if removed {
			s.updateGauges()
			s.broadcastLocked(room, EventMemberLeft, memberEvent{
				RoomTarget: room,
				User:       c.User.ref(),
				Timestamp:  now,
			}, "", "")
		}
	})
}

func (s *Service) update(ctx context.Context, who caller, m Update) error {
	room, err := ParseRoomTarget(string(m.RoomTarget))
	if err != nil {
		s.replyError(ctx, who.connID, "update", err)
		return err
	}

	mctx, cancel := context.WithTimeout(ctx, s.membershipTimeout)
	role, err := s.members.RoleOf(mctx, room.ResourceID(), who.user.ID)
	cancel()

	ut, parseErr := ParseUpdateType(m.UpdateType)
	if err == nil && role.Elevated() && parseErr != nil {
		// Elevated roles may send anything in the enum; outside it is malformed.
		s.replyError(ctx, who.connID, "update", parseErr)
		return parseErr
	}
	if err != nil || parseErr != nil || !s.perms.Allows(role, ut) {
		details := map[string]any{
			"roomTarget": string(room),
			"updateType": m.UpdateType,
			"role":       string(role),
		}
		switch {
		case errors.Is(err, ErrNotFound):
			details["reason"] = "not a confirmed member"
		case err != nil:
			details["reason"] = "role lookup failed"
			s.logger.Warn("role lookup failed", "conn_id", who.connID, "room", string(room), "err", err)
		case parseErr != nil:
			details["reason"] = "unknown update type"
		}
		return s.deny(ctx, who, "update", audit.KindUnauthorizedUpdate, details)
	}

	payload := m.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	by := who.user.ref()
	return s.withConn(ctx, who.connID, func(c *Connection) {
		s.broadcastLocked(room, EventUpdated, updatedEvent{
			RoomTarget: room,
			UpdateType: ut,
			Payload:    payload,
			UpdatedBy:  &by,
			Timestamp:  s.now().UTC(),
		}, c.UserID, "")
	})
}

func (s *Service) ping(ctx context.Context, who caller) error {
	return s.withConn(ctx, who.connID, func(c *Connection) {
		now := s.now()
		c.LastActivity = now
		s.sendLocked(c, EventPong, pongEvent{Timestamp: now.UTC()})
	})
}

// deny answers a forbidden action and audits it.
func (s *Service) deny(ctx context.Context, who caller, action string, kind audit.Kind, details map[string]any) error {
	err := fmt.Errorf("%w: %s", ErrForbidden, action)
	s.metrics.Denied(action)
	s.replyError(ctx, who.connID, action, err)
	s.audit.Record(audit.Entry{
		Kind:         kind,
		ConnectionID: who.connID,
		UserID:       who.user.ID,
		RemoteAddr:   who.remoteAddr,
		UserAgent:    who.userAgent,
		Timestamp:    s.now(),
		Severity:     audit.SeverityMedium,
		Context:      details,
	})
	return err
}

// withConn runs fn on the reactor if connection id is still registered.
func (s *Service) withConn(ctx context.Context, id string, fn func(c *Connection)) error {
	found := false
	err := s.exec(ctx, func() {
		c, ok := s.reg.get(id)
		if !ok {
			return
		}
		found = true
		fn(c)
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrConnectionGone
	}
	return nil
}

// replyError sends an error event to connection id, if it still exists.
func (s *Service) replyError(ctx context.Context, id, action string, cause error) {
	ev := errorEvent{Context: action, Message: errorMessage(cause), Code: codeFor(cause)}
	_ = s.withConn(ctx, id, func(c *Connection) {
		s.sendLocked(c, EventError, ev)
	})
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to perform this action"
	case errors.Is(err, ErrInternal):
		return "Internal error"
	default:
		return err.Error()
	}
}

// fail logs an internal error, tells the client if possible, and drops the
// connection so no half-applied membership survives.
func (s *Service) fail(id string, err error) {
	s.logger.Error("handler failed, dropping connection", "conn_id", id, "err", err)
	ctx := context.Background()
	s.replyError(ctx, id, "internal", fmt.Errorf("%w: %v", ErrInternal, err))
	s.Disconnect(id, "internal error")
}
