package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investmentclub/treasury/internal/models"
)

const snapshotColumns = `id, club_id, valuation_date, total_club_value, total_units_outstanding, unit_value, created_at`

// LatestSnapshot returns the newest unit value snapshot for a club, or
// (nil, nil) when none has been taken yet.
func (db *DB) LatestSnapshot(ctx context.Context, clubID int64) (*models.UnitValueSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM unit_value_snapshots
		WHERE club_id = $1
		ORDER BY valuation_date DESC, id DESC
		LIMIT 1
	`
	return db.scanSnapshot(db.conn.QueryRowContext(ctx, query, clubID))
}

// LatestSnapshotOn returns the newest snapshot whose valuation date is
// on or before the given date, or (nil, nil) when none exists. This is
// the snapshot "in effect" for a member transaction on that date.
func (db *DB) LatestSnapshotOn(ctx context.Context, clubID int64, date time.Time) (*models.UnitValueSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM unit_value_snapshots
		WHERE club_id = $1 AND valuation_date <= $2
		ORDER BY valuation_date DESC, id DESC
		LIMIT 1
	`
	return db.scanSnapshot(db.conn.QueryRowContext(ctx, query, clubID, date))
}

func (db *DB) scanSnapshot(row *sql.Row) (*models.UnitValueSnapshot, error) {
	var s models.UnitValueSnapshot
	err := row.Scan(&s.ID, &s.ClubID, &s.ValuationDate, &s.TotalClubValue,
		&s.TotalUnitsOutstanding, &s.UnitValue, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}
