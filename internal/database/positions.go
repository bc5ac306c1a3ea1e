package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/investmentclub/treasury/internal/models"
)

const positionColumns = `id, fund_id, asset_id, quantity, avg_cost_basis, created_at, updated_at`

// GetPosition retrieves the position a fund holds in an asset.
// Returns (nil, nil) when the fund holds none.
func (db *DB) GetPosition(ctx context.Context, fundID, assetID int64) (*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE fund_id = $1 AND asset_id = $2
	`
	var p models.Position
	err := db.conn.QueryRowContext(ctx, query, fundID, assetID).Scan(
		&p.ID, &p.FundID, &p.AssetID, &p.Quantity, &p.AvgCostBasis, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &p, nil
}

// GetPositionsByFund retrieves all positions held by a fund.
func (db *DB) GetPositionsByFund(ctx context.Context, fundID int64) ([]*models.Position, error) {
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE fund_id = $1
		ORDER BY asset_id
	`
	return db.queryPositions(ctx, query, fundID)
}

// GetPositionsByClub retrieves all positions across a club's funds.
func (db *DB) GetPositionsByClub(ctx context.Context, clubID int64) ([]*models.Position, error) {
	query := `
		SELECT p.id, p.fund_id, p.asset_id, p.quantity, p.avg_cost_basis, p.created_at, p.updated_at
		FROM positions p
		JOIN funds f ON f.id = p.fund_id
		WHERE f.club_id = $1
		ORDER BY p.fund_id, p.asset_id
	`
	return db.queryPositions(ctx, query, clubID)
}

func (db *DB) queryPositions(ctx context.Context, query string, arg interface{}) ([]*models.Position, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		var p models.Position
		err := rows.Scan(&p.ID, &p.FundID, &p.AssetID, &p.Quantity, &p.AvgCostBasis, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}
