package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investmentclub/treasury/internal/models"
)

// CreateClub inserts a new club.
func (db *DB) CreateClub(ctx context.Context, c *models.Club) error {
	query := `
		INSERT INTO clubs (name, bank_account_balance, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		c.Name, c.BankAccountBalance, c.IsActive, now, now,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to create club: %w", err)
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetClub retrieves a club by id. Returns (nil, nil) when missing.
func (db *DB) GetClub(ctx context.Context, clubID int64) (*models.Club, error) {
	query := `
		SELECT id, name, bank_account_balance, is_active, created_at, updated_at
		FROM clubs
		WHERE id = $1
	`
	var c models.Club
	err := db.conn.QueryRowContext(ctx, query, clubID).Scan(
		&c.ID, &c.Name, &c.BankAccountBalance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get club: %w", err)
	}
	return &c, nil
}

// ListClubs retrieves all clubs.
func (db *DB) ListClubs(ctx context.Context) ([]*models.Club, error) {
	query := `
		SELECT id, name, bank_account_balance, is_active, created_at, updated_at
		FROM clubs
		ORDER BY id
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clubs: %w", err)
	}
	defer rows.Close()

	var clubs []*models.Club
	for rows.Next() {
		var c models.Club
		if err := rows.Scan(&c.ID, &c.Name, &c.BankAccountBalance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan club: %w", err)
		}
		clubs = append(clubs, &c)
	}
	return clubs, rows.Err()
}
