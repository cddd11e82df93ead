package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Selina744/group-planner-sub000/auth"
)

// Role is a member's permission level within one trip.
type Role string

const (
	RoleHost   Role = "HOST"
	RoleCoHost Role = "CO_HOST"
	RoleMember Role = "MEMBER"
)

// Elevated reports whether r may broadcast any update type.
func (r Role) Elevated() bool {
	return r == RoleHost || r == RoleCoHost
}

// UserSummary is the cached identity attached to a connection.
type UserSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// ref is the lightweight form sent to other room members.
func (u UserSummary) ref() UserRef {
	return UserRef{ID: u.ID, DisplayName: u.DisplayName}
}

// UserRef identifies a user in room broadcasts.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// RoomID is the composite kind:resourceId name of a room, e.g. "trip:42".
type RoomID string

// RoomKindTrip is the only resource kind rooms are scoped to today.
const RoomKindTrip = "trip"

// NewRoomID builds the room name for a trip.
func NewRoomID(tripID string) RoomID {
	return RoomID(RoomKindTrip + ":" + tripID)
}

// ResourceID returns the part after the kind prefix.
func (r RoomID) ResourceID() string {
	_, id, _ := strings.Cut(string(r), ":")
	return id
}

// ParseRoomTarget accepts either "trip:42" or a bare "42".
func ParseRoomTarget(target string) (RoomID, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: empty room target", ErrBadRequest)
	}
	kind, id, found := strings.Cut(target, ":")
	if !found {
		return NewRoomID(target), nil
	}
	if kind != RoomKindTrip {
		return "", fmt.Errorf("%w: unknown room kind %q", ErrBadRequest, kind)
	}
	if id == "" || strings.Contains(id, ":") {
		return "", fmt.Errorf("%w: malformed room target %q", ErrBadRequest, target)
	}
	return NewRoomID(id), nil
}

// Connection is one live, authenticated channel. Owned by the reactor; callers
// outside it only ever see copies (MemberInfo).
type Connection struct {
	ID           string
	UserID       string
	User         UserSummary
	RemoteAddr   string
	UserAgent    string
	ConnectedAt  time.Time
	LastActivity time.Time

	rooms map[RoomID]struct{}
	peer  Peer
}

// Rooms returns the rooms c currently belongs to.
func (c *Connection) Rooms() []RoomID {
	out := make([]RoomID, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Peer is the outbound half of a transport connection.
type Peer interface {
	// Send queues frame for delivery without blocking. It returns false when
	// the peer can no longer accept frames.
	Send(frame []byte) bool
	// Close terminates the transport. Safe to call more than once.
	Close()
}

// ErrNotFound is what collaborators return for unknown users or resources.
var ErrNotFound = errors.New("not found")

// TokenVerifier validates a handshake token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Claims, error)
}

// UserLoader resolves a token subject to a user.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (UserSummary, error)
}

// MembershipChecker answers trip membership questions.
type MembershipChecker interface {
	IsConfirmedMember(ctx context.Context, resourceID, userID string) (bool, error)
	RoleOf(ctx context.Context, resourceID, userID string) (Role, error)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	RoomMembers map[RoomID]int `json:"roomMembers"`
}

// MemberInfo describes one connection in a room.
type MemberInfo struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}
