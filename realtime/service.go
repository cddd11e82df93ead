package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Selina744/group-planner-sub000/audit"
	"github.com/Selina744/group-planner-sub000/metrics"
)

const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultMembershipTimeout = 5 * time.Second
)

// Options configures a Service. Verifier, Users and Members are required.
type Options struct {
	Verifier TokenVerifier
	Users    UserLoader
	Members  MembershipChecker

	Audit       audit.Sink
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Permissions *Permissions

	HandshakeTimeout  time.Duration
	MembershipTimeout time.Duration

	// SensitiveHeaders are masked in handshake audit entries on top of the
	// built-in credential headers.
	SensitiveHeaders []string

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Service is the realtime core: connection registry, room directory, access
// control and fan-out. All registry state is owned by the goroutine running
// Run; every other method hands it a closure and waits.
type Service struct {
	verifier TokenVerifier
	users    UserLoader
	members  MembershipChecker
	audit    audit.Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	perms    *Permissions

	handshakeTimeout  time.Duration
	membershipTimeout time.Duration
	sensitiveHeaders  []string
	now               func() time.Time
	newID             func() string

	// Reactor-owned state
	reg     *registry
	closed  bool
	dropped []string

	// closing mirrors closed for callers outside the reactor.
	closing atomic.Bool

	cmds    chan func()
	stopped chan struct{}
	runOnce sync.Once
}

// NewService builds a Service. Call Run before using it.
func NewService(opts Options) (*Service, error) {
	if opts.Verifier == nil || opts.Users == nil || opts.Members == nil {
		return nil, fmt.Errorf("realtime: verifier, user loader and membership checker are required")
	}
	s := &Service{
		verifier:          opts.Verifier,
		users:             opts.Users,
		members:           opts.Members,
		audit:             opts.Audit,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		perms:             opts.Permissions,
		handshakeTimeout:  opts.HandshakeTimeout,
		membershipTimeout: opts.MembershipTimeout,
		sensitiveHeaders:  opts.SensitiveHeaders,
		now:               opts.Now,
		newID:             opts.NewID,
		reg:               newRegistry(),
		cmds:              make(chan func()),
		stopped:           make(chan struct{}),
	}
	if s.audit == nil {
		s.audit = audit.Discard{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "realtime")
	if s.perms == nil {
		s.perms = NewPermissions(DefaultBaseAllowed())
	}
	if s.handshakeTimeout <= 0 {
		s.handshakeTimeout = DefaultHandshakeTimeout
	}
	if s.membershipTimeout <= 0 {
		s.membershipTimeout = DefaultMembershipTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s, nil
}

// Permissions returns the live permission table.
func (s *Service) Permissions() *Permissions { return s.perms }

// Run executes registry commands until ctx is cancelled, then tears down every
// remaining connection. It must be called exactly once.
func (s *Service) Run(ctx context.Context) {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return
	}
	defer close(s.stopped)

	for {
		select {
		case fn := <-s.cmds:
			fn()
		case <-ctx.Done():
			s.shutdownLocked("server stopped")
			return
		}
	}
}

// exec runs fn on the reactor and waits for it. A panic inside fn is
// recovered and returned as ErrInternal so the reactor survives it.
func (s *Service) exec(ctx context.Context, fn func()) (err error) {
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in reactor command", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("%w: %v", ErrInternal, r)
			}
			s.drainDropped()
		}()
		fn()
	}

	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return err
}

// Disconnect tears down connection id. It is a no-op for unknown ids.
func (s *Service) Disconnect(id, reason string) {
	err := s.exec(context.Background(), func() {
		s.teardown(id, reason)
	})
	if err != nil && err != ErrShuttingDown {
		s.logger.Error("disconnect failed", "conn_id", id, "err", err)
	}
}

// Shutdown tears down every connection, clears all rooms and refuses new
// handshakes. Calling it again, or after Run has returned, is a no-op.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.exec(ctx, func() {
		s.shutdownLocked("server shutdown")
	})
	if err == ErrShuttingDown {
		return nil
	}
	return err
}

func (s *Service) shutdownLocked(reason string) {
	if s.closed && len(s.reg.conns) == 0 {
		return
	}
	s.closed = true
	s.closing.Store(true)
	n := len(s.reg.conns)
	for _, id := range s.reg.ids() {
		s.teardown(id, reason)
	}
	s.dropped = nil
	s.reg.reset()
	s.metrics.SetGauges(0, 0)
	s.logger.Info("realtime service shut down", "connections_closed", n)
}

// Stats returns connection and room counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.exec(ctx, func() { st = s.reg.stats() })
	if err == ErrShuttingDown {
		return Stats{RoomMembers: map[RoomID]int{}}, nil
	}
	return st, err
}

// RoomMembers lists the connections currently in room.
func (s *Service) RoomMembers(ctx context.Context, room RoomID) ([]MemberInfo, error) {
	var out []MemberInfo
	err := s.exec(ctx, func() {
		for _, c := range s.reg.members(room) {
			out = append(out, MemberInfo{
				ConnectionID: c.ID,
				UserID:       c.UserID,
				DisplayName:  c.User.DisplayName,
				ConnectedAt:  c.ConnectedAt,
				LastActivity: c.LastActivity,
			})
		}
	})
	if err == ErrShuttingDown {
		return nil, nil
	}
	return out, err
}

// teardown removes id from every room, tells the remaining members, forgets
// the connection and closes its transport. Reactor only.
func (s *Service) teardown(id, reason string) {
	c := s.reg.remove(id)
	if c == nil {
		return
	}
	now := s.now()
	for room := range c.rooms {
		s.broadcastLocked(room, EventMemberLeft, memberEvent{
			RoomTarget: room,
			User:       c.User.ref(),
			Timestamp:  now.UTC(),
		}, "", "")
	}
	c.peer.Close()

	duration := now.Sub(c.ConnectedAt)
	s.audit.Record(audit.Entry{
		Kind:         audit.KindDisconnection,
		ConnectionID: c.ID,
		UserID:       c.UserID,
		RemoteAddr:   c.RemoteAddr,
		UserAgent:    c.UserAgent,
		Timestamp:    now,
		Severity:     audit.SeverityLow,
		Context: map[string]any{
			"reason":     reason,
			"durationMs": duration.Milliseconds(),
			"rooms":      len(c.rooms),
		},
	})
	s.updateGauges()
	s.logger.Debug("connection closed", "conn_id", c.ID, "user_id", c.UserID, "reason", reason, "duration", duration)
}

// drainDropped disconnects peers whose send buffers overflowed during the
// last command. Teardown may overflow more peers, hence the loop.
func (s *Service) drainDropped() {
	for len(s.dropped) > 0 {
		id := s.dropped[0]
		s.dropped = s.dropped[1:]
		if _, ok := s.reg.get(id); !ok {
			continue
		}
		s.metrics.Dropped()
		s.logger.Warn("dropping slow connection", "conn_id", id)
		s.teardown(id, "send buffer full")
	}
}

func (s *Service) updateGauges() {
	s.metrics.SetGauges(len(s.reg.conns), len(s.reg.rooms))
}
