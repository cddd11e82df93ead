package realtime

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// UpdateType tags an update broadcast. The set is closed; anything not listed
// here is rejected before the permission check runs.
type UpdateType string

const (
	UpdateTripUpdated       UpdateType = "trip:updated"
	UpdateTripDeleted       UpdateType = "trip:deleted"
	UpdateEventCreated      UpdateType = "event:created"
	UpdateEventUpdated      UpdateType = "event:updated"
	UpdateEventDeleted      UpdateType = "event:deleted"
	UpdateItemCreated       UpdateType = "item:created"
	UpdateItemUpdated       UpdateType = "item:updated"
	UpdateItemDeleted       UpdateType = "item:deleted"
	UpdateItemAssigned      UpdateType = "item:assigned"
	UpdateItemCompleted     UpdateType = "item:completed"
	UpdateRSVPUpdated       UpdateType = "rsvp:updated"
	UpdateMemberInvited     UpdateType = "member:invited"
	UpdateMemberRemoved     UpdateType = "member:removed"
	UpdateMemberRoleChanged UpdateType = "member:role-changed"
	UpdateChatMessage       UpdateType = "chat:message"
)

var knownUpdateTypes = map[UpdateType]struct{}{
	UpdateTripUpdated:       {},
	UpdateTripDeleted:       {},
	UpdateEventCreated:      {},
	UpdateEventUpdated:      {},
	UpdateEventDeleted:      {},
	UpdateItemCreated:       {},
	UpdateItemUpdated:       {},
	UpdateItemDeleted:       {},
	UpdateItemAssigned:      {},
	UpdateItemCompleted:     {},
	UpdateRSVPUpdated:       {},
	UpdateMemberInvited:     {},
	UpdateMemberRemoved:     {},
	UpdateMemberRoleChanged: {},
	UpdateChatMessage:       {},
}

// ParseUpdateType validates s against the known update types.
func ParseUpdateType(s string) (UpdateType, error) {
	t := UpdateType(s)
	if _, ok := knownUpdateTypes[t]; !ok {
		return "", fmt.Errorf("%w: unknown update type %q", ErrBadRequest, s)
	}
	return t, nil
}

// ParseUpdateTypes validates a list, e.g. from config.
func ParseUpdateTypes(names []string) ([]UpdateType, error) {
	out := make([]UpdateType, 0, len(names))
	for _, n := range names {
		t, err := ParseUpdateType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DefaultBaseAllowed is what plain members may broadcast.
func DefaultBaseAllowed() []UpdateType {
	return []UpdateType{
		UpdateRSVPUpdated,
		UpdateItemAssigned,
		UpdateItemCompleted,
		UpdateChatMessage,
	}
}

type updateSet map[UpdateType]struct{}

// Permissions maps roles to the update types they may broadcast. Elevated
// roles are allowed everything; the base role set can be swapped at runtime.
type Permissions struct {
	base atomic.Pointer[updateSet]
}

// NewPermissions builds a table whose base role may send allowed.
func NewPermissions(allowed []UpdateType) *Permissions {
	p := &Permissions{}
	p.SetBaseAllowed(allowed)
	return p
}

// SetBaseAllowed replaces the base role allow-list.
func (p *Permissions) SetBaseAllowed(allowed []UpdateType) {
	set := make(updateSet, len(allowed))
	for _, t := range allowed {
		set[t] = struct{}{}
	}
	p.base.Store(&set)
}

// BaseAllowed returns the current base role allow-list, sorted.
func (p *Permissions) BaseAllowed() []UpdateType {
	set := *p.base.Load()
	out := make([]UpdateType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allows reports whether role may broadcast t.
func (p *Permissions) Allows(role Role, t UpdateType) bool {
	switch {
	case role.Elevated():
		return true
	case role == RoleMember:
		_, ok := (*p.base.Load())[t]
		return ok
	default:
		return false
	}
}
