package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

const transactionColumns = `t.id, t.club_id, t.type, t.date, t.fund_id, t.target_fund_id,
	t.asset_id, t.quantity, t.price, t.amount, t.fees, t.notes, t.reverses, t.created_at`

// GetTransaction retrieves one ledger entry by id. Returns (nil, nil)
// when missing.
func (db *DB) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.id = $1
	`
	tx, err := scanTransaction(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListTransactions returns ledger entries matching the filter, newest
// first. The ledger is append-only; there is no update or delete path.
func (db *DB) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		LEFT JOIN assets a ON a.id = t.asset_id
		WHERE t.club_id = $1
	`
	args := []interface{}{f.ClubID}
	argIdx := 2

	if f.FundID != nil {
		query += fmt.Sprintf(" AND (t.fund_id = $%d OR t.target_fund_id = $%d)", argIdx, argIdx)
		args = append(args, *f.FundID)
		argIdx++
	}
	if f.Type != nil {
		query += fmt.Sprintf(" AND t.type = $%d", argIdx)
		args = append(args, string(*f.Type))
		argIdx++
	}
	if f.Symbol != "" {
		query += fmt.Sprintf(" AND a.symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.From != nil {
		query += fmt.Sprintf(" AND t.date >= $%d", argIdx)
		args = append(args, *f.From)
		argIdx++
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND t.date <= $%d", argIdx)
		args = append(args, *f.To)
		argIdx++
	}

	query += " ORDER BY t.date DESC, t.id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var fundID, targetFundID, assetID, reverses sql.NullInt64
	var quantity, price, fees sql.NullString
	var notes sql.NullString

	err := row.Scan(
		&t.ID, &t.ClubID, &t.Type, &t.Date, &fundID, &targetFundID,
		&assetID, &quantity, &price, &t.Amount, &fees, &notes, &reverses, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if fundID.Valid {
		t.FundID = &fundID.Int64
	}
	if targetFundID.Valid {
		t.TargetFundID = &targetFundID.Int64
	}
	if assetID.Valid {
		t.AssetID = &assetID.Int64
	}
	if reverses.Valid {
		t.Reverses = &reverses.Int64
	}
	if quantity.Valid {
		t.Quantity, _ = decimal.NewFromString(quantity.String)
	}
	if price.Valid {
		t.Price, _ = decimal.NewFromString(price.String)
	}
	if fees.Valid {
		t.Fees, _ = decimal.NewFromString(fees.String)
	}
	if notes.Valid {
		t.Notes = notes.String
	}
	return &t, nil
}

// ListMemberTransactions returns a member's deposit/withdrawal history
// in a club, newest first.
func (db *DB) ListMemberTransactions(ctx context.Context, clubID, userID int64) ([]*models.MemberTransaction, error) {
	query := `
		SELECT id, user_id, club_id, type, date, amount, units_transacted, unit_value_used, created_at
		FROM member_transactions
		WHERE club_id = $1 AND user_id = $2
		ORDER BY date DESC, id DESC
	`
	rows, err := db.conn.QueryContext(ctx, query, clubID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list member transactions: %w", err)
	}
	defer rows.Close()

	var mtxs []*models.MemberTransaction
	for rows.Next() {
		var m models.MemberTransaction
		err := rows.Scan(&m.ID, &m.UserID, &m.ClubID, &m.Type, &m.Date,
			&m.Amount, &m.UnitsTransacted, &m.UnitValueUsed, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member transaction: %w", err)
		}
		mtxs = append(mtxs, &m)
	}
	return mtxs, rows.Err()
}
