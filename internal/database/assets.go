package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// UpsertAsset inserts an asset or updates its mutable fields.
func (db *DB) UpsertAsset(ctx context.Context, a *models.Asset) error {
	query := `
		INSERT INTO assets (symbol, name, asset_type, current_price, price_updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol)
		DO UPDATE SET
			name = EXCLUDED.name,
			asset_type = EXCLUDED.asset_type,
			current_price = EXCLUDED.current_price,
			price_updated_at = EXCLUDED.price_updated_at
		RETURNING id
	`
	err := db.conn.QueryRowContext(ctx, query,
		a.Symbol, a.Name, a.AssetType, a.CurrentPrice, a.PriceUpdated,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", a.Symbol, err)
	}
	return nil
}

// GetAsset retrieves an asset by id. Returns (nil, nil) when missing.
func (db *DB) GetAsset(ctx context.Context, assetID int64) (*models.Asset, error) {
	query := `
		SELECT id, symbol, name, asset_type, current_price, price_updated_at
		FROM assets
		WHERE id = $1
	`
	return db.scanAsset(db.conn.QueryRowContext(ctx, query, assetID))
}

// GetAssetBySymbol retrieves an asset by symbol. Returns (nil, nil)
// when missing.
func (db *DB) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	query := `
		SELECT id, symbol, name, asset_type, current_price, price_updated_at
		FROM assets
		WHERE symbol = $1
	`
	return db.scanAsset(db.conn.QueryRowContext(ctx, query, symbol))
}

func (db *DB) scanAsset(row *sql.Row) (*models.Asset, error) {
	var a models.Asset
	var name sql.NullString
	var updated sql.NullTime
	err := row.Scan(&a.ID, &a.Symbol, &name, &a.AssetType, &a.CurrentPrice, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	if name.Valid {
		a.Name = name.String
	}
	if updated.Valid {
		a.PriceUpdated = updated.Time
	}
	return &a, nil
}

// UpdateAssetPrice applies an externally supplied price to an asset.
// Prices arrive from the market-data feed; nothing else writes them.
func (db *DB) UpdateAssetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	query := `
		UPDATE assets
		SET current_price = $2, price_updated_at = $3
		WHERE symbol = $1
	`
	result, err := db.conn.ExecContext(ctx, query, symbol, price, at)
	if err != nil {
		return fmt.Errorf("failed to update price for %s: %w", symbol, err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("asset not found for symbol: %s", symbol)
	}
	return nil
}
