package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investmentclub/treasury/internal/models"
)

// CreateFund inserts a new fund for a club.
func (db *DB) CreateFund(ctx context.Context, f *models.Fund) error {
	query := `
		INSERT INTO funds (club_id, name, is_active, brokerage_cash_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	now := time.Now()
	err := db.conn.QueryRowContext(ctx, query,
		f.ClubID, f.Name, f.IsActive, f.BrokerageCashBalance, now, now,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to create fund: %w", err)
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

// GetFund retrieves a fund by id. Returns (nil, nil) when missing.
func (db *DB) GetFund(ctx context.Context, fundID int64) (*models.Fund, error) {
	query := `
		SELECT id, club_id, name, is_active, brokerage_cash_balance, created_at, updated_at
		FROM funds
		WHERE id = $1
	`
	var f models.Fund
	err := db.conn.QueryRowContext(ctx, query, fundID).Scan(
		&f.ID, &f.ClubID, &f.Name, &f.IsActive, &f.BrokerageCashBalance, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return &f, nil
}

// GetFundsByClub retrieves every fund of a club, active or not, in id
// order.
func (db *DB) GetFundsByClub(ctx context.Context, clubID int64) ([]*models.Fund, error) {
	query := `
		SELECT id, club_id, name, is_active, brokerage_cash_balance, created_at, updated_at
		FROM funds
		WHERE club_id = $1
		ORDER BY id
	`
	rows, err := db.conn.QueryContext(ctx, query, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to get funds: %w", err)
	}
	defer rows.Close()

	var funds []*models.Fund
	for rows.Next() {
		var f models.Fund
		if err := rows.Scan(&f.ID, &f.ClubID, &f.Name, &f.IsActive, &f.BrokerageCashBalance, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, &f)
	}
	return funds, rows.Err()
}

// GetFundSplits retrieves the club's allocation split percentages.
func (db *DB) GetFundSplits(ctx context.Context, clubID int64) ([]*models.FundSplit, error) {
	query := `
		SELECT fund_id, club_id, percentage
		FROM fund_splits
		WHERE club_id = $1
		ORDER BY fund_id
	`
	rows, err := db.conn.QueryContext(ctx, query, clubID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fund splits: %w", err)
	}
	defer rows.Close()

	var splits []*models.FundSplit
	for rows.Next() {
		var s models.FundSplit
		if err := rows.Scan(&s.FundID, &s.ClubID, &s.Percentage); err != nil {
			return nil, fmt.Errorf("failed to scan fund split: %w", err)
		}
		splits = append(splits, &s)
	}
	return splits, rows.Err()
}
