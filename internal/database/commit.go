package database

import (
	"context"
	"fmt"
	"time"

	"github.com/investmentclub/treasury/internal/engine"
)

// Commit applies one engine mutation in a single database transaction.
// Balance changes are relative updates so concurrent clubs never step
// on each other, and the appended ledger rows land in the same commit
// as the balances they explain.
func (db *DB) Commit(ctx context.Context, mu *engine.Mutation) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	if !mu.BankDelta.IsZero() {
		result, err := tx.ExecContext(ctx, `
			UPDATE clubs
			SET bank_account_balance = bank_account_balance + $2, updated_at = $3
			WHERE id = $1
		`, mu.ClubID, mu.BankDelta, now)
		if err != nil {
			return fmt.Errorf("failed to update club balance: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("club not found: %d", mu.ClubID)
		}
	}

	for fundID, delta := range mu.FundCashDeltas {
		if delta.IsZero() {
			continue
		}
		result, err := tx.ExecContext(ctx, `
			UPDATE funds
			SET brokerage_cash_balance = brokerage_cash_balance + $2, updated_at = $3
			WHERE id = $1
		`, fundID, delta, now)
		if err != nil {
			return fmt.Errorf("failed to update fund %d balance: %w", fundID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("fund not found: %d", fundID)
		}
	}

	for _, pc := range mu.PositionChanges {
		if pc.Quantity.IsZero() {
			_, err := tx.ExecContext(ctx, `
				DELETE FROM positions WHERE fund_id = $1 AND asset_id = $2
			`, pc.FundID, pc.AssetID)
			if err != nil {
				return fmt.Errorf("failed to delete position: %w", err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO positions (fund_id, asset_id, quantity, avg_cost_basis, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (fund_id, asset_id)
			DO UPDATE SET
				quantity = EXCLUDED.quantity,
				avg_cost_basis = EXCLUDED.avg_cost_basis,
				updated_at = EXCLUDED.updated_at
		`, pc.FundID, pc.AssetID, pc.Quantity, pc.AvgCostBasis, now)
		if err != nil {
			return fmt.Errorf("failed to upsert position: %w", err)
		}
	}

	for _, uc := range mu.UnitsChanges {
		result, err := tx.ExecContext(ctx, `
			UPDATE club_memberships
			SET units_held = units_held + $3, updated_at = $4
			WHERE user_id = $1 AND club_id = $2
		`, uc.UserID, uc.ClubID, uc.Delta, now)
		if err != nil {
			return fmt.Errorf("failed to update units for member %d: %w", uc.UserID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("membership not found: user %d club %d", uc.UserID, uc.ClubID)
		}
	}

	if mu.ReplaceSplits != nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM fund_splits WHERE club_id = $1`, mu.ClubID)
		if err != nil {
			return fmt.Errorf("failed to clear fund splits: %w", err)
		}
		for _, s := range mu.ReplaceSplits {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fund_splits (fund_id, club_id, percentage)
				VALUES ($1, $2, $3)
			`, s.FundID, s.ClubID, s.Percentage)
			if err != nil {
				return fmt.Errorf("failed to insert fund split: %w", err)
			}
		}
	}

	for _, t := range mu.Transactions {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO transactions (club_id, type, date, fund_id, target_fund_id,
				asset_id, quantity, price, amount, fees, notes, reverses, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id
		`, t.ClubID, t.Type, t.Date, t.FundID, t.TargetFundID,
			t.AssetID, t.Quantity, t.Price, t.Amount, t.Fees, t.Notes, t.Reverses, now,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("failed to append transaction: %w", err)
		}
		t.CreatedAt = now
	}

	for _, m := range mu.MemberTransactions {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO member_transactions (user_id, club_id, type, date, amount,
				units_transacted, unit_value_used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, m.UserID, m.ClubID, m.Type, m.Date, m.Amount,
			m.UnitsTransacted, m.UnitValueUsed, now,
		).Scan(&m.ID)
		if err != nil {
			return fmt.Errorf("failed to append member transaction: %w", err)
		}
		m.CreatedAt = now
	}

	for _, s := range mu.Snapshots {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO unit_value_snapshots (club_id, valuation_date, total_club_value,
				total_units_outstanding, unit_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, s.ClubID, s.ValuationDate, s.TotalClubValue,
			s.TotalUnitsOutstanding, s.UnitValue, now,
		).Scan(&s.ID)
		if err != nil {
			return fmt.Errorf("failed to append snapshot: %w", err)
		}
		s.CreatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mutation: %w", err)
	}
	return nil
}
