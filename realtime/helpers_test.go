package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Selina744/group-planner-sub000/audit"
	"github.com/Selina744/group-planner-sub000/auth"
)

// fakePeer records frames. capacity < 0 means unbounded.
type fakePeer struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	capacity int
}

func newPeer() *fakePeer { return &fakePeer{capacity: -1} }

func (p *fakePeer) Send(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if p.capacity >= 0 && len(p.frames) >= p.capacity {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// events returns decoded envelopes, optionally filtered by name.
func (p *fakePeer) events(name string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Envelope
	for _, f := range p.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			panic(err)
		}
		if name == "" || env.Event == name {
			out = append(out, env)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// fakeVerifier accepts "tok-<user>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, tok string) (auth.Claims, error) {
	sub, ok := strings.CutPrefix(tok, "tok-")
	if !ok {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return auth.Claims{Subject: sub}, nil
}

type fakeUsers struct{}

func (fakeUsers) GetByID(_ context.Context, id string) (UserSummary, error) {
	if strings.HasPrefix(id, "ghost") {
		return UserSummary{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return UserSummary{ID: id, DisplayName: strings.ToUpper(id), Email: id + "@example.com"}, nil
}

// fakeMembers maps trip -> user -> role. Confirmed membership is implied by
// presence. The hook funcs override lookups when set.
type fakeMembers struct {
	mu      sync.Mutex
	roles   map[string]map[string]Role
	onCheck func(resourceID, userID string) (bool, error)
	onRole  func(resourceID, userID string) (Role, error)
}

func newMembers() *fakeMembers {
	return &fakeMembers{roles: make(map[string]map[string]Role)}
}

func (m *fakeMembers) set(trip, user string, role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.roles[trip] == nil {
		m.roles[trip] = make(map[string]Role)
	}
	m.roles[trip][user] = role
}

func (m *fakeMembers) IsConfirmedMember(_ context.Context, trip, user string) (bool, error) {
	if m.onCheck != nil {
		return m.onCheck(trip, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roles[trip][user]
	return ok, nil
}

func (m *fakeMembers) RoleOf(_ context.Context, trip, user string) (Role, error) {
	if m.onRole != nil {
		return m.onRole(trip, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[trip][user]
	if !ok {
		return "", ErrNotFound
	}
	return r, nil
}

type testEnv struct {
	svc     *Service
	members *fakeMembers
	audit   *audit.Recorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{members: newMembers(), audit: &audit.Recorder{}}
	svc, err := NewService(Options{
		Verifier:          fakeVerifier{},
		Users:             fakeUsers{},
		Members:           env.members,
		Audit:             env.audit,
		Logger:            discardLogger(),
		MembershipTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	env.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return env
}

// connect performs a header-token handshake for user.
func (e *testEnv) connect(t *testing.T, user string) (string, *fakePeer) {
	t.Helper()
	p := newPeer()
	id, err := e.svc.Connect(context.Background(), Handshake{
		Header:     http.Header{"Authorization": {"Bearer tok-" + user}},
		RemoteAddr: "10.0.0.1:5555",
		UserAgent:  "test",
	}, p)
	if err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
	return id, p
}

func (e *testEnv) send(t *testing.T, id string, event string, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatal(err)
		}
		raw = b
	}
	frame, _ := json.Marshal(Envelope{Event: event, Data: raw})
	e.svc.Handle(context.Background(), id, frame)
}

func (e *testEnv) stats(t *testing.T) Stats {
	t.Helper()
	st, err := e.svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}

// checkConsistency asserts that rooms and connections agree in both directions.
func (e *testEnv) checkConsistency(t *testing.T) {
	t.Helper()
	err := e.svc.exec(context.Background(), func() {
		for room, members := range e.svc.reg.rooms {
			if len(members) == 0 {
				t.Errorf("empty room %s still present", room)
			}
			for id := range members {
				c, ok := e.svc.reg.conns[id]
				if !ok {
					t.Errorf("room %s lists unknown conn %s", room, id)
					continue
				}
				if _, ok := c.rooms[room]; !ok {
					t.Errorf("conn %s missing room %s", id, room)
				}
			}
		}
		for id, c := range e.svc.reg.conns {
			for room := range c.rooms {
				if _, ok := e.svc.reg.rooms[room][id]; !ok {
					t.Errorf("conn %s claims room %s but is not a member", id, room)
				}
			}
		}
	})
	if err != nil && !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("exec: %v", err)
	}
}

func dataOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s data: %v", env.Event, err)
	}
	return v
}
