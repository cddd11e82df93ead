package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Selina744/group-planner-sub000/audit"
	"github.com/Selina744/group-planner-sub000/auth"
)

// Handshake is the metadata a transport collects when a client connects.
type Handshake struct {
	Header     http.Header
	Query      url.Values
	Cookie     string
	RemoteAddr string
	UserAgent  string
}

// Connect authenticates hs and, on success, registers peer and sends it the
// connected event. It returns the new connection id. On failure it returns an
// *AuthError and nothing is registered. Once Shutdown has run it returns
// ErrShuttingDown without consulting any collaborator.
func (s *Service) Connect(ctx context.Context, hs Handshake, peer Peer) (string, error) {
	if s.closing.Load() {
		return "", ErrShuttingDown
	}
	id := s.newID()
	if hs.Header == nil {
		hs.Header = http.Header{}
	}

	user, err := s.authenticate(ctx, hs)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			s.metrics.Handshake(ae.Reason)
			s.audit.Record(audit.Entry{
				Kind:         audit.KindUnauthorizedConnection,
				ConnectionID: id,
				RemoteAddr:   hs.RemoteAddr,
				UserAgent:    hs.UserAgent,
				Timestamp:    s.now(),
				Severity:     audit.SeverityMedium,
				Context: map[string]any{
					"reason":  ae.Reason,
					"headers": audit.RedactHeaders(hs.Header, s.sensitiveHeaders...),
					"query":   audit.RedactQuery(hs.Query),
				},
			})
			s.logger.Info("handshake rejected", "conn_id", id, "remote_addr", hs.RemoteAddr, "reason", ae.Reason)
		}
		return "", err
	}

	now := s.now()
	c := &Connection{
		ID:           id,
		UserID:       user.ID,
		User:         user,
		RemoteAddr:   hs.RemoteAddr,
		UserAgent:    hs.UserAgent,
		ConnectedAt:  now,
		LastActivity: now,
		peer:         peer,
	}

	closed := false
	err = s.exec(ctx, func() {
		if s.closed {
			closed = true
			return
		}
		s.reg.add(c)
		s.updateGauges()
		s.sendLocked(c, EventConnected, connectedEvent{
			Message:   "Connected to Group Planner realtime",
			UserID:    user.ID,
			Timestamp: now.UTC(),
		})
	})
	if err == nil && closed {
		err = ErrShuttingDown
	}
	if err != nil {
		return "", err
	}

	s.metrics.Handshake("ok")
	s.audit.Record(audit.Entry{
		Kind:         audit.KindConnectionSuccess,
		ConnectionID: id,
		UserID:       user.ID,
		RemoteAddr:   hs.RemoteAddr,
		UserAgent:    hs.UserAgent,
		Timestamp:    now,
		Severity:     audit.SeverityLow,
	})
	s.logger.Info("connection established", "conn_id", id, "user_id", user.ID, "remote_addr", hs.RemoteAddr)
	return id, nil
}

// authenticate resolves the handshake to a user without touching the registry.
func (s *Service) authenticate(ctx context.Context, hs Handshake) (UserSummary, error) {
	tok, _ := auth.ExtractToken(hs.Header, hs.Query, hs.Cookie)
	if tok == "" {
		return UserSummary{}, &AuthError{Reason: "missing_token"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()

	claims, err := s.verifier.Verify(ctx, tok)
	if err != nil {
		return UserSummary{}, &AuthError{Reason: "invalid_token", Err: err}
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	switch {
	case errors.Is(err, ErrNotFound):
		return UserSummary{}, &AuthError{Reason: "user_not_found", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return UserSummary{}, &AuthError{Reason: "timeout", Err: err}
	case err != nil:
		return UserSummary{}, &AuthError{Reason: "user_lookup_failed", Err: err}
	}
	if user.ID == "" {
		user.ID = claims.Subject
	}
	return user, nil
}
