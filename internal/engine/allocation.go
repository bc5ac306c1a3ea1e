package engine

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// splitEpsilon is the tolerance on the active-fund split sum.
var splitEpsilon = decimal.NewFromFloat(0.0001)

var decimalOne = decimal.NewFromInt(1)

// validateSplitSum checks that the splits of the given active funds
// sum to 1.0 within tolerance.
func validateSplitSum(clubID int64, activeFunds []*models.Fund, splits map[int64]decimal.Decimal) error {
	sum := decimal.Zero
	for _, f := range activeFunds {
		sum = sum.Add(splits[f.ID])
	}
	if sum.Sub(decimalOne).Abs().GreaterThan(splitEpsilon) {
		return &AllocationImbalanceError{ClubID: clubID, Sum: sum}
	}
	return nil
}

// Allocate moves amount from the club bank account into the active
// funds' brokerage accounts per the configured splits. Funds are
// processed in ascending id order; every fund but the last receives
// its share rounded to cash precision and the last fund receives the
// exact remainder, so the shares always sum to amount with no rounding
// leakage. One BankToBrokerage transaction is recorded per fund and
// the whole movement commits atomically.
func (e *Engine) Allocate(ctx context.Context, actor Actor, clubID int64, amount decimal.Decimal, date time.Time, notes string) ([]*models.Transaction, error) {
	if err := requireAdmin(actor, "allocate cash to funds"); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, validationf("amount", "must be positive, got %s", amount)
	}

	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return nil, err
	}

	club, err := e.getClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if club.BankAccountBalance.LessThan(amount) {
		return nil, &InsufficientFundsError{
			Resource:  "bank cash",
			Requested: amount,
			Available: club.BankAccountBalance,
		}
	}

	funds, err := e.store.GetFundsByClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	active := activeFundsByID(funds)
	if len(active) == 0 {
		return nil, validationf("funds", "club %d has no active funds to allocate to", clubID)
	}

	splits, err := e.splitMap(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if err := validateSplitSum(clubID, active, splits); err != nil {
		return nil, err
	}

	mu := &Mutation{ClubID: clubID, BankDelta: amount.Neg()}
	remaining := amount
	var txs []*models.Transaction
	for i, f := range active {
		share := remaining
		if i < len(active)-1 {
			share = amount.Mul(splits[f.ID]).Round(cashPrecision)
			remaining = remaining.Sub(share)
		}
		mu.addFundCash(f.ID, share)
		fundID := f.ID
		txs = append(txs, &models.Transaction{
			ClubID: clubID,
			Type:   models.TxBankToBrokerage,
			Date:   date,
			FundID: &fundID,
			Amount: share,
			Notes:  notes,
		})
	}
	mu.Transactions = txs

	if err := e.commit(ctx, mu, true); err != nil {
		return nil, err
	}
	return txs, nil
}

// SaveFundSplits replaces the club's split percentages. Whenever the
// club has at least one active fund the new percentages must sum to
// 1.0 within tolerance, the same rule enforced at allocation time.
func (e *Engine) SaveFundSplits(ctx context.Context, actor Actor, clubID int64, splits []*models.FundSplit) error {
	if err := requireAdmin(actor, "edit fund splits"); err != nil {
		return err
	}

	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return err
	}

	if _, err := e.getClub(ctx, clubID); err != nil {
		return err
	}
	funds, err := e.store.GetFundsByClub(ctx, clubID)
	if err != nil {
		return err
	}
	byID := make(map[int64]*models.Fund, len(funds))
	for _, f := range funds {
		byID[f.ID] = f
	}

	pct := make(map[int64]decimal.Decimal, len(splits))
	for _, s := range splits {
		f, ok := byID[s.FundID]
		if !ok || f.ClubID != clubID {
			return &NotFoundError{Entity: "fund", ID: s.FundID}
		}
		if s.Percentage.IsNegative() || s.Percentage.GreaterThan(decimalOne) {
			return validationf("percentage", "fund %d: must be within [0, 1], got %s", s.FundID, s.Percentage)
		}
		if _, dup := pct[s.FundID]; dup {
			return validationf("fund_id", "fund %d listed twice", s.FundID)
		}
		pct[s.FundID] = s.Percentage
		s.ClubID = clubID
	}

	if active := activeFundsByID(funds); len(active) > 0 {
		if err := validateSplitSum(clubID, active, pct); err != nil {
			return err
		}
	}

	mu := &Mutation{ClubID: clubID, ReplaceSplits: splits}
	return e.commit(ctx, mu, false)
}

// splitMap loads the club's splits keyed by fund id.
func (e *Engine) splitMap(ctx context.Context, clubID int64) (map[int64]decimal.Decimal, error) {
	splits, err := e.store.GetFundSplits(ctx, clubID)
	if err != nil {
		return nil, err
	}
	m := make(map[int64]decimal.Decimal, len(splits))
	for _, s := range splits {
		m[s.FundID] = s.Percentage
	}
	return m, nil
}

// activeFundsByID filters to active funds in ascending id order, the
// stable order the remainder policy depends on.
func activeFundsByID(funds []*models.Fund) []*models.Fund {
	var active []*models.Fund
	for _, f := range funds {
		if f.IsActive {
			active = append(active, f)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}
