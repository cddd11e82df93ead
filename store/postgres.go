package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Selina744/group-planner-sub000/realtime"
)

// Postgres reads users and trip_members from the planner database.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgres connects to url and verifies the connection.
func NewPostgres(ctx context.Context, url string, log *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, log: log.With("component", "store")}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

// Ping checks connectivity, for health endpoints.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// GetByID loads the user summary for id.
func (p *Postgres) GetByID(ctx context.Context, id string) (realtime.UserSummary, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, display_name, email
		FROM users
		WHERE id = $1
	`, id)

	var u realtime.UserSummary
	if err := row.Scan(&u.ID, &u.DisplayName, &u.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return realtime.UserSummary{}, fmt.Errorf("user %s: %w", id, realtime.ErrNotFound)
		}
		return realtime.UserSummary{}, err
	}
	return u, nil
}

// IsConfirmedMember reports whether userID has a CONFIRMED row for tripID.
func (p *Postgres) IsConfirmedMember(ctx context.Context, tripID, userID string) (bool, error) {
	var confirmed bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trip_members
			WHERE trip_id = $1 AND user_id = $2 AND status = $3
		)
	`, tripID, userID, StatusConfirmed).Scan(&confirmed)
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

// RoleOf returns the confirmed member's role on tripID.
func (p *Postgres) RoleOf(ctx context.Context, tripID, userID string) (realtime.Role, error) {
	var role string
	err := p.pool.QueryRow(ctx, `
		SELECT role
		FROM trip_members
		WHERE trip_id = $1 AND user_id = $2 AND status = $3
	`, tripID, userID, StatusConfirmed).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("member %s of trip %s: %w", userID, tripID, realtime.ErrNotFound)
		}
		return "", err
	}
	return realtime.Role(role), nil
}
