package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/metrics"
	"github.com/investmentclub/treasury/internal/models"
)

// PositionValuation is one position priced at the current market.
type PositionValuation struct {
	AssetID       int64           `json:"asset_id"`
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgCostBasis  decimal.Decimal `json:"avg_cost_basis"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostValue     decimal.Decimal `json:"cost_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PercentOfFund decimal.Decimal `json:"percent_of_fund"`
}

// FundValuation aggregates a fund's cash and priced positions.
type FundValuation struct {
	FundID         int64               `json:"fund_id"`
	Name           string              `json:"name"`
	IsActive       bool                `json:"is_active"`
	CashBalance    decimal.Decimal     `json:"cash_balance"`
	PositionsValue decimal.Decimal     `json:"positions_value"`
	TotalValue     decimal.Decimal     `json:"total_value"`
	PercentOfClub  decimal.Decimal     `json:"percent_of_club"`
	Positions      []PositionValuation `json:"positions"`
}

// ClubValuation is the club-wide view: bank cash, every fund (inactive
// funds stay included until their value reaches zero), units
// outstanding and unit value from the latest snapshot.
type ClubValuation struct {
	ClubID           int64           `json:"club_id"`
	BankBalance      decimal.Decimal `json:"bank_balance"`
	Funds            []FundValuation `json:"funds"`
	TotalValue       decimal.Decimal `json:"total_value"`
	UnitsOutstanding decimal.Decimal `json:"units_outstanding"`
	UnitValue        decimal.Decimal `json:"unit_value"`
	AsOf             time.Time       `json:"as_of"`
}

// MemberEquity is one member's stake priced at the latest unit value.
type MemberEquity struct {
	UserID        int64                       `json:"user_id"`
	ClubID        int64                       `json:"club_id"`
	UnitsHeld     decimal.Decimal             `json:"units_held"`
	UnitValue     decimal.Decimal             `json:"unit_value"`
	Equity        decimal.Decimal             `json:"equity"`
	PercentOfClub decimal.Decimal             `json:"percent_of_club"`
	History       []*models.MemberTransaction `json:"history"`
}

// fundValue prices one fund: brokerage cash plus every position at its
// asset's current price.
func (e *Engine) fundValue(ctx context.Context, fund *models.Fund) (*FundValuation, error) {
	positions, err := e.store.GetPositionsByFund(ctx, fund.ID)
	if err != nil {
		return nil, err
	}
	fv := &FundValuation{
		FundID:      fund.ID,
		Name:        fund.Name,
		IsActive:    fund.IsActive,
		CashBalance: fund.BrokerageCashBalance,
		Positions:   make([]PositionValuation, 0, len(positions)),
	}
	for _, p := range positions {
		asset, err := e.getAsset(ctx, p.AssetID)
		if err != nil {
			return nil, err
		}
		mv := p.MarketValue(asset.CurrentPrice)
		fv.Positions = append(fv.Positions, PositionValuation{
			AssetID:       p.AssetID,
			Symbol:        asset.Symbol,
			Quantity:      p.Quantity,
			AvgCostBasis:  p.AvgCostBasis,
			CurrentPrice:  asset.CurrentPrice,
			MarketValue:   mv,
			CostValue:     p.CostValue(),
			UnrealizedPnL: p.UnrealizedPnL(asset.CurrentPrice),
		})
		fv.PositionsValue = fv.PositionsValue.Add(mv)
	}
	fv.TotalValue = fv.CashBalance.Add(fv.PositionsValue)
	for i := range fv.Positions {
		fv.Positions[i].PercentOfFund = percentOf(fv.Positions[i].MarketValue, fv.TotalValue)
	}
	return fv, nil
}

// percentOf guards division by zero to a zero percentage instead of
// propagating NaN.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.DivRound(whole, unitValuePrecision)
}

// clubTotalValue computes bank cash plus the value of every fund,
// active or not. Inactive funds remain counted until they are fully
// drained; they are only excluded from new-cash allocation.
func (e *Engine) clubTotalValue(ctx context.Context, clubID int64) (decimal.Decimal, error) {
	club, err := e.getClub(ctx, clubID)
	if err != nil {
		return decimal.Zero, err
	}
	total := club.BankAccountBalance
	funds, err := e.store.GetFundsByClub(ctx, clubID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, f := range funds {
		fv, err := e.fundValue(ctx, f)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(fv.TotalValue)
	}
	return total, nil
}

// GetClubValuation prices the whole club. With asOf unset it values
// live state and reports units/unit value from the latest snapshot;
// with asOf set it returns the snapshot in effect at that date.
func (e *Engine) GetClubValuation(ctx context.Context, clubID int64, asOf *time.Time) (*ClubValuation, error) {
	club, err := e.getClub(ctx, clubID)
	if err != nil {
		return nil, err
	}

	if asOf != nil {
		snap, err := e.store.LatestSnapshotOn(ctx, clubID, *asOf)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, &NotFoundError{Entity: "unit value snapshot", ID: clubID}
		}
		return &ClubValuation{
			ClubID:           clubID,
			TotalValue:       snap.TotalClubValue,
			UnitsOutstanding: snap.TotalUnitsOutstanding,
			UnitValue:        snap.UnitValue,
			AsOf:             snap.ValuationDate,
		}, nil
	}

	cv := &ClubValuation{
		ClubID:      clubID,
		BankBalance: club.BankAccountBalance,
		TotalValue:  club.BankAccountBalance,
		AsOf:        time.Now().UTC(),
	}
	funds, err := e.store.GetFundsByClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	for _, f := range funds {
		fv, err := e.fundValue(ctx, f)
		if err != nil {
			return nil, err
		}
		cv.Funds = append(cv.Funds, *fv)
		cv.TotalValue = cv.TotalValue.Add(fv.TotalValue)
	}
	for i := range cv.Funds {
		cv.Funds[i].PercentOfClub = percentOf(cv.Funds[i].TotalValue, cv.TotalValue)
	}

	snap, err := e.store.LatestSnapshot(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		cv.UnitsOutstanding = snap.TotalUnitsOutstanding
		cv.UnitValue = snap.UnitValue
	}
	return cv, nil
}

// GetFundDetail prices a single fund.
func (e *Engine) GetFundDetail(ctx context.Context, fundID int64) (*FundValuation, error) {
	fund, err := e.getFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	fv, err := e.fundValue(ctx, fund)
	if err != nil {
		return nil, err
	}
	total, err := e.clubTotalValue(ctx, fund.ClubID)
	if err != nil {
		return nil, err
	}
	fv.PercentOfClub = percentOf(fv.TotalValue, total)
	return fv, nil
}

// GetMemberEquity values a member's units at the latest unit value and
// returns their deposit/withdrawal history.
func (e *Engine) GetMemberEquity(ctx context.Context, clubID, userID int64) (*MemberEquity, error) {
	m, err := e.getMembership(ctx, userID, clubID)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.LatestSnapshot(ctx, clubID)
	if err != nil {
		return nil, err
	}
	unitValue := seedUnitValue
	totalUnits := decimal.Zero
	if snap != nil {
		totalUnits = snap.TotalUnitsOutstanding
		if !snap.TotalUnitsOutstanding.IsZero() {
			unitValue = snap.UnitValue
		}
	}
	history, err := e.store.ListMemberTransactions(ctx, clubID, userID)
	if err != nil {
		return nil, err
	}
	return &MemberEquity{
		UserID:        userID,
		ClubID:        clubID,
		UnitsHeld:     m.UnitsHeld,
		UnitValue:     unitValue,
		Equity:        m.UnitsHeld.Mul(unitValue).Round(cashPrecision),
		PercentOfClub: percentOf(m.UnitsHeld, totalUnits),
		History:       history,
	}, nil
}

// Recalculate values the club as of the given date and appends one
// UnitValueSnapshot. It is read-only apart from the append and
// idempotent: calling it again with no intervening mutation returns
// the existing identical snapshot instead of appending a duplicate.
// Revaluing a past date appends a new snapshot; nothing is ever edited.
func (e *Engine) Recalculate(ctx context.Context, actor Actor, clubID int64, date time.Time) (*models.UnitValueSnapshot, error) {
	if err := requireAdmin(actor, "recalculate unit value"); err != nil {
		return nil, err
	}
	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return nil, err
	}

	total, err := e.clubTotalValue(ctx, clubID)
	if err != nil {
		return nil, err
	}
	memberships, err := e.store.GetMembershipsByClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	units := decimal.Zero
	for _, m := range memberships {
		units = units.Add(m.UnitsHeld)
	}
	unitValue := decimal.Zero
	if !units.IsZero() {
		unitValue = total.DivRound(units, unitValuePrecision)
	}

	snap := &models.UnitValueSnapshot{
		ClubID:                clubID,
		ValuationDate:         date,
		TotalClubValue:        total.Round(cashPrecision),
		TotalUnitsOutstanding: units,
		UnitValue:             unitValue,
	}

	latest, err := e.store.LatestSnapshot(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.ValuationDate.Equal(snap.ValuationDate) &&
		latest.TotalClubValue.Equal(snap.TotalClubValue) &&
		latest.TotalUnitsOutstanding.Equal(snap.TotalUnitsOutstanding) {
		return latest, nil
	}

	mu := &Mutation{ClubID: clubID, Snapshots: []*models.UnitValueSnapshot{snap}}
	if err := e.commit(ctx, mu, false); err != nil {
		return nil, err
	}
	metrics.SnapshotsCreated.Inc()
	return snap, nil
}
