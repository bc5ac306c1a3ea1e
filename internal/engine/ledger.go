package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// TransactionCommand carries the caller's input for one ledger entry.
// Which fields are required depends on Type.
type TransactionCommand struct {
	ClubID   int64
	Type     models.TransactionType
	Date     time.Time
	FundID   *int64
	AssetID  *int64
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Amount   decimal.Decimal
	Fees     decimal.Decimal
	Notes    string
	Reverses *int64
}

// RecordTransaction validates and applies one trade, income or expense
// transaction, then appends it to the ledger. The append and every
// balance/position effect commit atomically; validation failures leave
// no trace. Transfer variants have their own operations (Allocate and
// the Transfer* methods) and are rejected here so they cannot bypass
// transfer validation.
func (e *Engine) RecordTransaction(ctx context.Context, actor Actor, cmd TransactionCommand) (*models.Transaction, error) {
	if err := requireAdmin(actor, "record a ledger transaction"); err != nil {
		return nil, err
	}
	if !cmd.Type.Valid() {
		return nil, validationf("type", "unknown transaction type %q", cmd.Type)
	}
	if cmd.Type.IsTransfer() {
		return nil, validationf("type", "%s is recorded through its transfer operation", cmd.Type)
	}
	if cmd.Date.IsZero() {
		return nil, validationf("date", "required")
	}
	if cmd.Fees.IsNegative() {
		return nil, validationf("fees", "must not be negative, got %s", cmd.Fees)
	}

	unlock := e.lockClub(cmd.ClubID)
	defer unlock()
	if err := e.haltedErr(cmd.ClubID); err != nil {
		return nil, err
	}

	club, err := e.getClub(ctx, cmd.ClubID)
	if err != nil {
		return nil, err
	}
	if cmd.Reverses != nil {
		orig, err := e.store.GetTransaction(ctx, *cmd.Reverses)
		if err != nil {
			return nil, err
		}
		if orig == nil || orig.ClubID != cmd.ClubID {
			return nil, &NotFoundError{Entity: "transaction", ID: *cmd.Reverses}
		}
	}

	mu := &Mutation{ClubID: cmd.ClubID}
	tx := &models.Transaction{
		ClubID:   cmd.ClubID,
		Type:     cmd.Type,
		Date:     cmd.Date,
		FundID:   cmd.FundID,
		AssetID:  cmd.AssetID,
		Quantity: cmd.Quantity,
		Price:    cmd.Price,
		Amount:   cmd.Amount,
		Fees:     cmd.Fees,
		Notes:    cmd.Notes,
		Reverses: cmd.Reverses,
	}

	switch cmd.Type {
	case models.TxBuyStock, models.TxBuyOption:
		if err := e.applyBuy(ctx, cmd, tx, mu); err != nil {
			return nil, err
		}
	case models.TxSellStock, models.TxSellOption:
		if err := e.applySell(ctx, cmd, tx, mu); err != nil {
			return nil, err
		}
	case models.TxOptionExpiration:
		if err := e.applyExpiration(ctx, cmd, tx, mu); err != nil {
			return nil, err
		}
	case models.TxDividend:
		if cmd.AssetID == nil {
			return nil, validationf("asset_id", "required for a dividend")
		}
		if err := e.applyFundIncome(ctx, cmd, tx, mu); err != nil {
			return nil, err
		}
	case models.TxBrokerageInterest:
		if cmd.AssetID != nil {
			return nil, validationf("asset_id", "must be empty for brokerage interest")
		}
		if err := e.applyFundIncome(ctx, cmd, tx, mu); err != nil {
			return nil, err
		}
	case models.TxBankInterest:
		if cmd.FundID != nil {
			return nil, validationf("fund_id", "must be empty for bank interest")
		}
		if !cmd.Amount.IsPositive() {
			return nil, validationf("amount", "must be positive, got %s", cmd.Amount)
		}
		mu.BankDelta = cmd.Amount
	case models.TxClubExpense:
		if err := e.applyExpense(ctx, club, cmd, tx, mu); err != nil {
			return nil, err
		}
	default:
		// Every non-transfer variant must be handled above.
		return nil, validationf("type", "unhandled transaction type %q", cmd.Type)
	}

	mu.Transactions = []*models.Transaction{tx}
	if err := e.commit(ctx, mu, false); err != nil {
		return nil, err
	}
	return tx, nil
}

// applyBuy debits the fund's brokerage cash by quantity x price + fees
// and folds the lot into the position at a weighted-average cost basis
// (fees are capitalized into the basis).
func (e *Engine) applyBuy(ctx context.Context, cmd TransactionCommand, tx *models.Transaction, mu *Mutation) error {
	fund, asset, err := e.tradeRefs(ctx, cmd)
	if err != nil {
		return err
	}
	if !fund.IsActive {
		return validationf("fund_id", "fund %d is inactive and cannot buy", fund.ID)
	}
	if !cmd.Quantity.IsPositive() {
		return validationf("quantity", "must be positive, got %s", cmd.Quantity)
	}
	if !cmd.Price.IsPositive() {
		return validationf("price", "must be positive, got %s", cmd.Price)
	}

	cost := cmd.Quantity.Mul(cmd.Price).Add(cmd.Fees).Round(cashPrecision)
	if fund.BrokerageCashBalance.LessThan(cost) {
		return &InsufficientFundsError{
			FundID:    fund.ID,
			Resource:  "cash",
			Requested: cost,
			Available: fund.BrokerageCashBalance,
		}
	}

	pos, err := e.store.GetPosition(ctx, fund.ID, asset.ID)
	if err != nil {
		return err
	}
	newQty := cmd.Quantity
	oldCost := decimal.Zero
	if pos != nil {
		newQty = pos.Quantity.Add(cmd.Quantity)
		oldCost = pos.CostValue()
	}
	basis := oldCost.Add(cost).DivRound(newQty, unitPrecision)

	tx.Amount = cost
	mu.addFundCash(fund.ID, cost.Neg())
	mu.PositionChanges = append(mu.PositionChanges, PositionChange{
		FundID:       fund.ID,
		AssetID:      asset.ID,
		Quantity:     newQty,
		AvgCostBasis: basis,
	})
	return nil
}

// applySell credits quantity x price - fees to the fund and reduces
// the position. The cost basis of the remaining shares is unchanged.
func (e *Engine) applySell(ctx context.Context, cmd TransactionCommand, tx *models.Transaction, mu *Mutation) error {
	fund, asset, err := e.tradeRefs(ctx, cmd)
	if err != nil {
		return err
	}
	if !cmd.Quantity.IsPositive() {
		return validationf("quantity", "must be positive, got %s", cmd.Quantity)
	}
	if !cmd.Price.IsPositive() {
		return validationf("price", "must be positive, got %s", cmd.Price)
	}

	pos, err := e.store.GetPosition(ctx, fund.ID, asset.ID)
	if err != nil {
		return err
	}
	if pos == nil {
		return &NotFoundError{Entity: "position", ID: asset.ID}
	}
	if pos.Quantity.LessThan(cmd.Quantity) {
		return &InsufficientFundsError{
			FundID:    fund.ID,
			Resource:  "shares",
			Requested: cmd.Quantity,
			Available: pos.Quantity,
		}
	}

	proceeds := cmd.Quantity.Mul(cmd.Price).Sub(cmd.Fees).Round(cashPrecision)
	if proceeds.IsNegative() {
		return validationf("fees", "fees %s exceed sale proceeds", cmd.Fees)
	}

	tx.Amount = proceeds
	mu.addFundCash(fund.ID, proceeds)
	mu.PositionChanges = append(mu.PositionChanges, PositionChange{
		FundID:       fund.ID,
		AssetID:      asset.ID,
		Quantity:     pos.Quantity.Sub(cmd.Quantity),
		AvgCostBasis: pos.AvgCostBasis,
	})
	return nil
}

// applyExpiration removes expired option contracts with no cash
// movement.
func (e *Engine) applyExpiration(ctx context.Context, cmd TransactionCommand, tx *models.Transaction, mu *Mutation) error {
	fund, asset, err := e.tradeRefs(ctx, cmd)
	if err != nil {
		return err
	}
	if asset.AssetType != models.AssetTypeOption {
		return validationf("asset_id", "asset %d is not an option", asset.ID)
	}
	if !cmd.Quantity.IsPositive() {
		return validationf("quantity", "must be positive, got %s", cmd.Quantity)
	}

	pos, err := e.store.GetPosition(ctx, fund.ID, asset.ID)
	if err != nil {
		return err
	}
	if pos == nil {
		return &NotFoundError{Entity: "position", ID: asset.ID}
	}
	if pos.Quantity.LessThan(cmd.Quantity) {
		return &InsufficientFundsError{
			FundID:    fund.ID,
			Resource:  "shares",
			Requested: cmd.Quantity,
			Available: pos.Quantity,
		}
	}

	tx.Amount = decimal.Zero
	mu.PositionChanges = append(mu.PositionChanges, PositionChange{
		FundID:       fund.ID,
		AssetID:      asset.ID,
		Quantity:     pos.Quantity.Sub(cmd.Quantity),
		AvgCostBasis: pos.AvgCostBasis,
	})
	return nil
}

// applyFundIncome credits a positive amount to the fund's brokerage
// cash (dividends, brokerage interest).
func (e *Engine) applyFundIncome(ctx context.Context, cmd TransactionCommand, tx *models.Transaction, mu *Mutation) error {
	if cmd.FundID == nil {
		return validationf("fund_id", "required")
	}
	fund, err := e.getFund(ctx, *cmd.FundID)
	if err != nil {
		return err
	}
	if fund.ClubID != cmd.ClubID {
		return &NotFoundError{Entity: "fund", ID: fund.ID}
	}
	if cmd.AssetID != nil {
		if _, err := e.getAsset(ctx, *cmd.AssetID); err != nil {
			return err
		}
	}
	if !cmd.Amount.IsPositive() {
		return validationf("amount", "must be positive, got %s", cmd.Amount)
	}
	tx.Amount = cmd.Amount.Round(cashPrecision)
	mu.addFundCash(fund.ID, tx.Amount)
	return nil
}

// applyExpense debits a club expense. With a fund id it is paid from
// that fund's brokerage cash, otherwise from the bank account.
func (e *Engine) applyExpense(ctx context.Context, club *models.Club, cmd TransactionCommand, tx *models.Transaction, mu *Mutation) error {
	if !cmd.Amount.IsPositive() {
		return validationf("amount", "must be positive, got %s", cmd.Amount)
	}
	amount := cmd.Amount.Round(cashPrecision)
	tx.Amount = amount

	if cmd.FundID != nil {
		fund, err := e.getFund(ctx, *cmd.FundID)
		if err != nil {
			return err
		}
		if fund.ClubID != cmd.ClubID {
			return &NotFoundError{Entity: "fund", ID: fund.ID}
		}
		if fund.BrokerageCashBalance.LessThan(amount) {
			return &InsufficientFundsError{
				FundID:    fund.ID,
				Resource:  "cash",
				Requested: amount,
				Available: fund.BrokerageCashBalance,
			}
		}
		mu.addFundCash(fund.ID, amount.Neg())
		return nil
	}

	if club.BankAccountBalance.LessThan(amount) {
		return &InsufficientFundsError{
			Resource:  "bank cash",
			Requested: amount,
			Available: club.BankAccountBalance,
		}
	}
	mu.BankDelta = amount.Neg()
	return nil
}

// tradeRefs resolves and cross-checks the fund and asset of a trade
// command.
func (e *Engine) tradeRefs(ctx context.Context, cmd TransactionCommand) (*models.Fund, *models.Asset, error) {
	if cmd.FundID == nil {
		return nil, nil, validationf("fund_id", "required")
	}
	if cmd.AssetID == nil {
		return nil, nil, validationf("asset_id", "required")
	}
	fund, err := e.getFund(ctx, *cmd.FundID)
	if err != nil {
		return nil, nil, err
	}
	if fund.ClubID != cmd.ClubID {
		return nil, nil, &NotFoundError{Entity: "fund", ID: *cmd.FundID}
	}
	asset, err := e.getAsset(ctx, *cmd.AssetID)
	if err != nil {
		return nil, nil, err
	}
	return fund, asset, nil
}

// ListTransactions returns the club ledger, date-descending, narrowed
// by the filter. The ledger is append-only: listing never mutates.
func (e *Engine) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]*models.Transaction, error) {
	if f.ClubID == 0 {
		return nil, validationf("club_id", "required")
	}
	if f.Type != nil && !f.Type.Valid() {
		return nil, validationf("type", "unknown transaction type %q", *f.Type)
	}
	return e.store.ListTransactions(ctx, f)
}
