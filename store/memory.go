// Package store resolves users and trip memberships for the realtime
// gateway. Memory backs development and tests; Postgres reads the planner's
// tables directly.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Selina744/group-planner-sub000/realtime"
)

// Membership status values in trip_members.status.
const (
	StatusConfirmed = "CONFIRMED"
	StatusInvited   = "INVITED"
	StatusDeclined  = "DECLINED"
)

type membership struct {
	role   realtime.Role
	status string
}

// Memory is an in-process store.
type Memory struct {
	mu      sync.RWMutex
	users   map[string]realtime.UserSummary
	members map[string]map[string]membership
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[string]realtime.UserSummary),
		members: make(map[string]map[string]membership),
	}
}

// PutUser adds or replaces a user.
func (m *Memory) PutUser(u realtime.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SetMember records userID's role and status on tripID.
func (m *Memory) SetMember(tripID, userID string, role realtime.Role, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[tripID] == nil {
		m.members[tripID] = make(map[string]membership)
	}
	m.members[tripID][userID] = membership{role: role, status: status}
}

// RemoveMember deletes userID from tripID.
func (m *Memory) RemoveMember(tripID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[tripID], userID)
	if len(m.members[tripID]) == 0 {
		delete(m.members, tripID)
	}
}

// GetByID implements realtime.UserLoader.
func (m *Memory) GetByID(_ context.Context, id string) (realtime.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return realtime.UserSummary{}, fmt.Errorf("user %s: %w", id, realtime.ErrNotFound)
	}
	return u, nil
}

// IsConfirmedMember implements realtime.MembershipChecker.
func (m *Memory) IsConfirmedMember(_ context.Context, tripID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.members[tripID][userID]
	return ok && ms.status == StatusConfirmed, nil
}

// RoleOf implements realtime.MembershipChecker. Only confirmed members have a role.
func (m *Memory) RoleOf(_ context.Context, tripID, userID string) (realtime.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.members[tripID][userID]
	if !ok || ms.status != StatusConfirmed {
		return "", fmt.Errorf("member %s of trip %s: %w", userID, tripID, realtime.ErrNotFound)
	}
	return ms.role, nil
}
