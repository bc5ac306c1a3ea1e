package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// Transfers move value between tracked balances without creating or
// destroying any. Validation runs in a fixed order — existence, active
// status, sufficiency, positivity — and nothing is written unless
// every check passes; the commit then applies both sides atomically.

// TransferBrokerageToBank moves cash from a fund's brokerage account
// back to the club bank account. The source fund may be inactive:
// draining inactive funds is how they reach zero and leave valuation.
func (e *Engine) TransferBrokerageToBank(ctx context.Context, actor Actor, clubID, fundID int64, amount decimal.Decimal, date time.Time, notes string) (*models.Transaction, error) {
	if err := requireAdmin(actor, "transfer brokerage cash to bank"); err != nil {
		return nil, err
	}

	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return nil, err
	}

	if _, err := e.getClub(ctx, clubID); err != nil {
		return nil, err
	}
	fund, err := e.getFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund.ClubID != clubID {
		return nil, &NotFoundError{Entity: "fund", ID: fundID}
	}
	if fund.BrokerageCashBalance.LessThan(amount) {
		return nil, &InsufficientFundsError{
			FundID:    fundID,
			Resource:  "cash",
			Requested: amount,
			Available: fund.BrokerageCashBalance,
		}
	}
	if !amount.IsPositive() {
		return nil, validationf("amount", "must be positive, got %s", amount)
	}

	fid := fundID
	tx := &models.Transaction{
		ClubID: clubID,
		Type:   models.TxBrokerageToBank,
		Date:   date,
		FundID: &fid,
		Amount: amount,
		Notes:  notes,
	}
	mu := &Mutation{
		ClubID:       clubID,
		BankDelta:    amount,
		Transactions: []*models.Transaction{tx},
	}
	mu.addFundCash(fundID, amount.Neg())

	if err := e.commit(ctx, mu, true); err != nil {
		return nil, err
	}
	return tx, nil
}

// TransferInterfundCash moves brokerage cash between two funds of the
// same club. Transfers into an inactive fund are rejected.
func (e *Engine) TransferInterfundCash(ctx context.Context, actor Actor, clubID, sourceID, targetID int64, amount decimal.Decimal, date time.Time, notes string) (*models.Transaction, error) {
	if err := requireAdmin(actor, "transfer cash between funds"); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return nil, validationf("target_fund_id", "source and target funds must differ")
	}

	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return nil, err
	}

	source, target, err := e.transferPair(ctx, clubID, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	if source.BrokerageCashBalance.LessThan(amount) {
		return nil, &InsufficientFundsError{
			FundID:    sourceID,
			Resource:  "cash",
			Requested: amount,
			Available: source.BrokerageCashBalance,
		}
	}
	if !amount.IsPositive() {
		return nil, validationf("amount", "must be positive, got %s", amount)
	}

	sid, tid := sourceID, target.ID
	tx := &models.Transaction{
		ClubID:       clubID,
		Type:         models.TxInterfundCashTransfer,
		Date:         date,
		FundID:       &sid,
		TargetFundID: &tid,
		Amount:       amount,
		Notes:        notes,
	}
	mu := &Mutation{ClubID: clubID, Transactions: []*models.Transaction{tx}}
	mu.addFundCash(sourceID, amount.Neg())
	mu.addFundCash(targetID, amount)

	if err := e.commit(ctx, mu, true); err != nil {
		return nil, err
	}
	return tx, nil
}

// TransferInterfundPosition moves part or all of a position between
// two funds. The average cost basis travels with the shares: a partial
// transfer splits the position without repricing either side, so
// combined quantity and cost value are unchanged. When the target fund
// already holds the asset the incoming shares merge at a weighted
// average of the two bases, which keeps total cost value intact.
func (e *Engine) TransferInterfundPosition(ctx context.Context, actor Actor, clubID, sourceID, targetID, assetID int64, quantity decimal.Decimal, date time.Time, notes string) (*models.Transaction, error) {
	if err := requireAdmin(actor, "transfer a position between funds"); err != nil {
		return nil, err
	}
	if sourceID == targetID {
		return nil, validationf("target_fund_id", "source and target funds must differ")
	}

	unlock := e.lockClub(clubID)
	defer unlock()
	if err := e.haltedErr(clubID); err != nil {
		return nil, err
	}

	source, target, err := e.transferPair(ctx, clubID, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	asset, err := e.getAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	pos, err := e.store.GetPosition(ctx, source.ID, assetID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, &NotFoundError{Entity: "position", ID: assetID}
	}
	if pos.Quantity.LessThan(quantity) {
		return nil, &InsufficientFundsError{
			FundID:    sourceID,
			Resource:  "shares",
			Requested: quantity,
			Available: pos.Quantity,
		}
	}
	if !quantity.IsPositive() {
		return nil, validationf("quantity", "must be positive, got %s", quantity)
	}

	mu := &Mutation{ClubID: clubID}
	mu.PositionChanges = append(mu.PositionChanges, PositionChange{
		FundID:       source.ID,
		AssetID:      assetID,
		Quantity:     pos.Quantity.Sub(quantity),
		AvgCostBasis: pos.AvgCostBasis,
	})

	existing, err := e.store.GetPosition(ctx, target.ID, assetID)
	if err != nil {
		return nil, err
	}
	targetQty := quantity
	targetBasis := pos.AvgCostBasis
	if existing != nil {
		targetQty = existing.Quantity.Add(quantity)
		combinedCost := existing.CostValue().Add(quantity.Mul(pos.AvgCostBasis))
		targetBasis = combinedCost.DivRound(targetQty, unitPrecision)
	}
	mu.PositionChanges = append(mu.PositionChanges, PositionChange{
		FundID:       target.ID,
		AssetID:      assetID,
		Quantity:     targetQty,
		AvgCostBasis: targetBasis,
	})

	sid, tid, aid := sourceID, target.ID, assetID
	tx := &models.Transaction{
		ClubID:       clubID,
		Type:         models.TxInterfundPositionTransfer,
		Date:         date,
		FundID:       &sid,
		TargetFundID: &tid,
		AssetID:      &aid,
		Quantity:     quantity,
		Price:        asset.CurrentPrice,
		Amount:       quantity.Mul(asset.CurrentPrice).Round(cashPrecision),
		Notes:        notes,
	}
	mu.Transactions = []*models.Transaction{tx}

	if err := e.commit(ctx, mu, true); err != nil {
		return nil, err
	}
	return tx, nil
}

// transferPair resolves both funds of an inter-fund transfer and
// rejects targets that are inactive or outside the club.
func (e *Engine) transferPair(ctx context.Context, clubID, sourceID, targetID int64) (*models.Fund, *models.Fund, error) {
	if _, err := e.getClub(ctx, clubID); err != nil {
		return nil, nil, err
	}
	source, err := e.getFund(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	target, err := e.getFund(ctx, targetID)
	if err != nil {
		return nil, nil, err
	}
	if source.ClubID != clubID {
		return nil, nil, &NotFoundError{Entity: "fund", ID: sourceID}
	}
	if target.ClubID != clubID {
		return nil, nil, &NotFoundError{Entity: "fund", ID: targetID}
	}
	if !target.IsActive {
		return nil, nil, validationf("target_fund_id", "fund %d is inactive and cannot receive transfers", targetID)
	}
	return source, target, nil
}
