package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// unitValueOn returns the unit value in effect at the given date: the
// newest snapshot on or before it. While no snapshot exists, or units
// outstanding are zero, the fixed $10.00 seed baseline applies.
func (e *Engine) unitValueOn(ctx context.Context, clubID int64, date time.Time) (decimal.Decimal, error) {
	snap, err := e.store.LatestSnapshotOn(ctx, clubID, date)
	if err != nil {
		return decimal.Zero, err
	}
	if snap == nil || snap.TotalUnitsOutstanding.IsZero() || snap.UnitValue.IsZero() {
		return seedUnitValue, nil
	}
	return snap.UnitValue, nil
}

// RecordDeposit converts a member's cash deposit into units at the
// unit value in effect on the deposit date. The bank balance and the
// member's unit balance grow together, and the MemberTransaction pins
// the unit value it used; later snapshots never reprice it.
func (e *Engine) RecordDeposit(ctx context.Context, actor Actor, clubID, userID int64, amount decimal.Decimal, date time.Time) (*models.MemberTransaction, error) {
	if err := requireSelfOrAdmin(actor, userID, "record a deposit"); err != nil {
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

	if _, err := e.getClub(ctx, clubID); err != nil {
		return nil, err
	}
	if _, err := e.getMembership(ctx, userID, clubID); err != nil {
		return nil, err
	}

	unitValue, err := e.unitValueOn(ctx, clubID, date)
	if err != nil {
		return nil, err
	}
	units := amount.DivRound(unitValue, unitPrecision)

	mtx := &models.MemberTransaction{
		UserID:          userID,
		ClubID:          clubID,
		Type:            models.MemberDeposit,
		Date:            date,
		Amount:          amount.Round(cashPrecision),
		UnitsTransacted: units,
		UnitValueUsed:   unitValue,
	}
	mu := &Mutation{
		ClubID:             clubID,
		BankDelta:          amount,
		UnitsChanges:       []UnitsChange{{UserID: userID, ClubID: clubID, Delta: units}},
		MemberTransactions: []*models.MemberTransaction{mtx},
	}
	if err := e.commit(ctx, mu, false); err != nil {
		return nil, err
	}
	return mtx, nil
}

// RecordWithdrawal redeems units for cash at the unit value in effect
// on the withdrawal date. Two separate checks guard it: the member's
// equity must cover the amount, and the club bank account must hold
// enough cash to pay it out. Their failures are distinct errors.
func (e *Engine) RecordWithdrawal(ctx context.Context, actor Actor, clubID, userID int64, amount decimal.Decimal, date time.Time) (*models.MemberTransaction, error) {
	if err := requireSelfOrAdmin(actor, userID, "record a withdrawal"); err != nil {
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
	membership, err := e.getMembership(ctx, userID, clubID)
	if err != nil {
		return nil, err
	}

	unitValue, err := e.unitValueOn(ctx, clubID, date)
	if err != nil {
		return nil, err
	}
	// Equity is compared at cash precision so a full redemption is not
	// rejected over a sub-cent rounding artifact.
	equity := membership.UnitsHeld.Mul(unitValue).Round(cashPrecision)
	if equity.LessThan(amount) {
		return nil, &InsufficientEquityError{
			UserID:    userID,
			ClubID:    clubID,
			Requested: amount,
			Equity:    equity.Round(cashPrecision),
		}
	}
	if club.BankAccountBalance.LessThan(amount) {
		return nil, &WithdrawalLiquidityError{
			ClubID:      clubID,
			Requested:   amount,
			BankBalance: club.BankAccountBalance,
		}
	}

	units := amount.DivRound(unitValue, unitPrecision)
	// A full redemption can round a hair past the running balance.
	if units.GreaterThan(membership.UnitsHeld) {
		units = membership.UnitsHeld
	}

	mtx := &models.MemberTransaction{
		UserID:          userID,
		ClubID:          clubID,
		Type:            models.MemberWithdrawal,
		Date:            date,
		Amount:          amount.Round(cashPrecision),
		UnitsTransacted: units,
		UnitValueUsed:   unitValue,
	}
	mu := &Mutation{
		ClubID:             clubID,
		BankDelta:          amount.Neg(),
		UnitsChanges:       []UnitsChange{{UserID: userID, ClubID: clubID, Delta: units.Neg()}},
		MemberTransactions: []*models.MemberTransaction{mtx},
	}
	if err := e.commit(ctx, mu, false); err != nil {
		return nil, err
	}
	return mtx, nil
}
