package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investmentclub/treasury/internal/models"
)

// CreateMembership adds a user to a club.
func (db *DB) CreateMembership(ctx context.Context, m *models.ClubMembership) error {
	query := `
		INSERT INTO club_memberships (user_id, club_id, role, units_held, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	_, err := db.conn.ExecContext(ctx, query,
		m.UserID, m.ClubID, m.Role, m.UnitsHeld, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}
	m.JoinedAt = now
	m.UpdatedAt = now
	return nil
}

// GetMembership retrieves a user's membership in a club. Returns
// (nil, nil) when the user is not a member.
func (db *DB) GetMembership(ctx context.Context, userID, clubID int64) (*models.ClubMembership, error) {
	query := `
		SELECT user_id, club_id, role, units_held, joined_at, updated_at
		FROM club_memberships
		WHERE user_id = $1 AND club_id = $2
	`
	var m models.ClubMembership
	err := db.conn.QueryRowContext(ctx, query, userID, clubID).Scan(
		&m.UserID, &m.ClubID, &m.Role, &m.UnitsHeld, &m.JoinedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// GetMembershipsByClub retrieves every membership of a club.
func (db *DB) GetMembershipsByClub(ctx context.Context, clubID int64) ([]*models.ClubMembership, error) {
	query := `
		SELECT user_id, club_id, role, units_held, joined_at, updated_at
		FROM club_memberships
		WHERE club_id = $1
		ORDER BY user_id
	`
	rows, err := db.conn.QueryContext(ctx, query, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*models.ClubMembership
	for rows.Next() {
		var m models.ClubMembership
		if err := rows.Scan(&m.UserID, &m.ClubID, &m.Role, &m.UnitsHeld, &m.JoinedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}
