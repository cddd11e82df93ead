package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Selina744/group-planner-sub000/realtime"
)

// Seed is the YAML shape accepted by LoadSeed.
//
//	users:
//	  - {id: u1, display_name: Ana, email: ana@example.com}
//	members:
//	  - {trip: "42", user: u1, role: HOST}
type Seed struct {
	Users []struct {
		ID          string `yaml:"id"`
		DisplayName string `yaml:"display_name"`
		Email       string `yaml:"email"`
	} `yaml:"users"`
	Members []struct {
		Trip   string `yaml:"trip"`
		User   string `yaml:"user"`
		Role   string `yaml:"role"`
		Status string `yaml:"status"`
	} `yaml:"members"`
}

// LoadSeed fills m from the YAML file at path. Members default to
// MEMBER / CONFIRMED.
func (m *Memory) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: read %q: %w", path, err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("seed: parse yaml: %w", err)
	}
	for _, u := range s.Users {
		if u.ID == "" {
			return fmt.Errorf("seed: user without id")
		}
		m.PutUser(realtime.UserSummary{ID: u.ID, DisplayName: u.DisplayName, Email: u.Email})
	}
	for _, mb := range s.Members {
		if mb.Trip == "" || mb.User == "" {
			return fmt.Errorf("seed: member needs trip and user")
		}
		role := realtime.Role(mb.Role)
		if role == "" {
			role = realtime.RoleMember
		}
		status := mb.Status
		if status == "" {
			status = StatusConfirmed
		}
		m.SetMember(mb.Trip, mb.User, role, status)
	}
	return nil
}
