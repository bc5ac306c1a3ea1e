package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/investmentclub/treasury/internal/models"
)

func TestTransferInterfundCash(t *testing.T) {
	eng, store := twoFundClub()
	store.funds[1].BrokerageCashBalance = d("1000")

	tx, err := eng.TransferInterfundCash(context.Background(), admin, 1, 1, 2, d("300"), date("2026-02-01"), "rebalance")
	require.NoError(t, err)

	assertDec(t, "700", store.funds[1].BrokerageCashBalance)
	assertDec(t, "300", store.funds[2].BrokerageCashBalance)
	assertDec(t, "10000", store.clubs[1].BankAccountBalance)

	assert.Equal(t, models.TxInterfundCashTransfer, tx.Type)
	require.NotNil(t, tx.FundID)
	require.NotNil(t, tx.TargetFundID)
	assert.Equal(t, int64(1), *tx.FundID)
	assert.Equal(t, int64(2), *tx.TargetFundID)
	assertDec(t, "300", tx.Amount)

	// Total club value is unchanged by the transfer.
	total, err := eng.clubTotalValue(context.Background(), 1)
	require.NoError(t, err)
	assertDec(t, "11000", total)
}

func TestTransferInterfundCashInsufficientLeavesNoTrace(t *testing.T) {
	eng, store := twoFundClub()
	store.funds[1].BrokerageCashBalance = d("100")

	_, err := eng.TransferInterfundCash(context.Background(), admin, 1, 1, 2, d("300"), date("2026-02-01"), "")
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.FundID)
	assert.Equal(t, "cash", insufficient.Resource)
	assertDec(t, "100", insufficient.Available)

	assert.Zero(t, store.commits)
	assertDec(t, "100", store.funds[1].BrokerageCashBalance)
	assertDec(t, "0", store.funds[2].BrokerageCashBalance)
	assert.Empty(t, store.transactions)
}

func TestTransferInterfundCashValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("same source and target", func(t *testing.T) {
		eng, _ := twoFundClub()
		_, err := eng.TransferInterfundCash(ctx, admin, 1, 1, 1, d("10"), date("2026-02-01"), "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("inactive target rejected", func(t *testing.T) {
		eng, store := twoFundClub()
		store.funds[1].BrokerageCashBalance = d("500")
		store.funds[2].IsActive = false
		_, err := eng.TransferInterfundCash(ctx, admin, 1, 1, 2, d("10"), date("2026-02-01"), "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "target_fund_id", verr.Field)
	})

	t.Run("fund outside club", func(t *testing.T) {
		eng, store := twoFundClub()
		store.addClub(2, "0")
		store.addFund(9, 2, "100", true)
		_, err := eng.TransferInterfundCash(ctx, admin, 1, 9, 2, d("10"), date("2026-02-01"), "")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	t.Run("admin only", func(t *testing.T) {
		eng, _ := twoFundClub()
		_, err := eng.TransferInterfundCash(ctx, member(5), 1, 1, 2, d("10"), date("2026-02-01"), "")
		var authz *AuthorizationError
		require.ErrorAs(t, err, &authz)
	})
}

func TestTransferBrokerageToBank(t *testing.T) {
	eng, store := twoFundClub()
	store.funds[1].BrokerageCashBalance = d("800")

	tx, err := eng.TransferBrokerageToBank(context.Background(), admin, 1, 1, d("250"), date("2026-02-01"), "")
	require.NoError(t, err)

	assertDec(t, "550", store.funds[1].BrokerageCashBalance)
	assertDec(t, "10250", store.clubs[1].BankAccountBalance)
	assert.Equal(t, models.TxBrokerageToBank, tx.Type)
}

func TestTransferBrokerageToBankDrainsInactiveFund(t *testing.T) {
	eng, store := twoFundClub()
	store.funds[1].IsActive = false
	store.funds[1].BrokerageCashBalance = d("75")

	// Inactive funds may still send cash back to the bank; that is how
	// they reach zero value and drop out of valuation.
	_, err := eng.TransferBrokerageToBank(context.Background(), admin, 1, 1, d("75"), date("2026-02-01"), "wind down")
	require.NoError(t, err)
	assertDec(t, "0", store.funds[1].BrokerageCashBalance)
	assertDec(t, "10075", store.clubs[1].BankAccountBalance)
}

func TestTransferInterfundPositionSplitsBasis(t *testing.T) {
	eng, store := twoFundClub()
	store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
	store.addPosition(1, 1, "10", "150")

	tx, err := eng.TransferInterfundPosition(context.Background(), admin, 1, 1, 2, 1, d("4"), date("2026-02-01"), "")
	require.NoError(t, err)

	source := store.positions[posKey(1, 1)]
	target := store.positions[posKey(2, 1)]
	require.NotNil(t, source)
	require.NotNil(t, target)
	assertDec(t, "6", source.Quantity)
	assertDec(t, "150", source.AvgCostBasis)
	assertDec(t, "4", target.Quantity)
	assertDec(t, "150", target.AvgCostBasis)

	assert.Equal(t, models.TxInterfundPositionTransfer, tx.Type)
	assertDec(t, "175", tx.Price)
	assertDec(t, "700", tx.Amount) // 4 shares at the current price
}

func TestTransferInterfundPositionMergesAtWeightedBasis(t *testing.T) {
	eng, store := twoFundClub()
	store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
	store.addPosition(1, 1, "10", "150")
	store.addPosition(2, 1, "5", "100")

	_, err := eng.TransferInterfundPosition(context.Background(), admin, 1, 1, 2, 1, d("4"), date("2026-02-01"), "")
	require.NoError(t, err)

	target := store.positions[posKey(2, 1)]
	require.NotNil(t, target)
	assertDec(t, "9", target.Quantity)
	// (5*100 + 4*150) / 9
	assertDec(t, "122.222222", target.AvgCostBasis)

	// Combined cost value is preserved up to basis rounding.
	source := store.positions[posKey(1, 1)]
	combined := source.CostValue().Add(target.CostValue())
	diff := combined.Sub(d("2000")).Abs()
	assert.True(t, diff.LessThan(d("0.0001")), "combined cost drifted by %s", diff)
}

func TestTransferInterfundPositionFullMoveDeletesSourceRow(t *testing.T) {
	eng, store := twoFundClub()
	store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
	store.addPosition(1, 1, "10", "150")

	_, err := eng.TransferInterfundPosition(context.Background(), admin, 1, 1, 2, 1, d("10"), date("2026-02-01"), "")
	require.NoError(t, err)

	_, ok := store.positions[posKey(1, 1)]
	assert.False(t, ok, "zero-quantity source row should be deleted")
	assertDec(t, "10", store.positions[posKey(2, 1)].Quantity)
}

func TestTransferInterfundPositionValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("missing position", func(t *testing.T) {
		eng, store := twoFundClub()
		store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
		_, err := eng.TransferInterfundPosition(ctx, admin, 1, 1, 2, 1, d("1"), date("2026-02-01"), "")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "position", nf.Entity)
	})

	t.Run("insufficient shares", func(t *testing.T) {
		eng, store := twoFundClub()
		store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
		store.addPosition(1, 1, "3", "150")
		_, err := eng.TransferInterfundPosition(ctx, admin, 1, 1, 2, 1, d("5"), date("2026-02-01"), "")
		var insufficient *InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "shares", insufficient.Resource)
		assert.Zero(t, store.commits)
	})

	t.Run("zero quantity", func(t *testing.T) {
		eng, store := twoFundClub()
		store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
		store.addPosition(1, 1, "3", "150")
		_, err := eng.TransferInterfundPosition(ctx, admin, 1, 1, 2, 1, d("0"), date("2026-02-01"), "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestTransferSequencePreservesTotalValue(t *testing.T) {
	eng, store := twoFundClub()
	store.funds[1].BrokerageCashBalance = d("2000")
	store.funds[2].BrokerageCashBalance = d("500")
	store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
	store.addAsset(2, "VTI", models.AssetTypeETF, "260.50")
	store.addPosition(1, 1, "10", "150")
	store.addPosition(1, 2, "4", "240")

	ctx := context.Background()
	before, err := eng.clubTotalValue(ctx, 1)
	require.NoError(t, err)

	day := date("2026-03-01")
	_, err = eng.TransferInterfundCash(ctx, admin, 1, 1, 2, d("123.45"), day, "")
	require.NoError(t, err)
	_, err = eng.TransferInterfundPosition(ctx, admin, 1, 1, 2, 1, d("3.5"), day, "")
	require.NoError(t, err)
	_, err = eng.TransferBrokerageToBank(ctx, admin, 1, 2, d("600"), day, "")
	require.NoError(t, err)
	_, err = eng.TransferInterfundPosition(ctx, admin, 1, 1, 2, 2, d("4"), day, "")
	require.NoError(t, err)
	_, err = eng.Allocate(ctx, admin, 1, d("999.99"), day, "")
	require.NoError(t, err)

	after, err := eng.clubTotalValue(ctx, 1)
	require.NoError(t, err)
	assert.True(t, before.Equal(after), "total value changed: %s -> %s", before, after)
}

func TestConservationViolationHaltsClub(t *testing.T) {
	eng, store := twoFundClub()
	ctx := context.Background()

	// A lopsided mutation submitted as conserving must be refused and
	// must trip the circuit breaker.
	mu := &Mutation{ClubID: 1, BankDelta: d("100")}
	err := eng.commit(ctx, mu, true)
	var violation *ConservationViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, int64(1), violation.ClubID)
	assert.Zero(t, store.commits)

	// Every subsequent mutation on the club reports the violation.
	_, err = eng.TransferInterfundCash(ctx, admin, 1, 1, 2, d("10"), date("2026-02-01"), "")
	assert.ErrorAs(t, err, &violation)
	_, err = eng.RecordDeposit(ctx, admin, 1, 1, d("10"), date("2026-02-01"))
	assert.ErrorAs(t, err, &violation)

	// Other clubs are unaffected.
	store.addClub(2, "100")
	store.addMembership(7, 2, models.RoleMember, "0")
	_, err = eng.RecordDeposit(ctx, member(7), 2, 7, d("10"), date("2026-02-01"))
	assert.NoError(t, err)

	// Clearing the halt requires admin and restores service.
	err = eng.ClearHalt(member(5), 1)
	var authz *AuthorizationError
	require.ErrorAs(t, err, &authz)

	require.NoError(t, eng.ClearHalt(admin, 1))
	store.funds[1].BrokerageCashBalance = d("50")
	_, err = eng.TransferInterfundCash(ctx, admin, 1, 1, 2, d("10"), date("2026-02-01"), "")
	assert.NoError(t, err)
}

func TestCheckConservationAcceptsBalancedPositionMove(t *testing.T) {
	eng, store := twoFundClub()
	store.addAsset(1, "AAPL", models.AssetTypeStock, "175")
	store.addPosition(1, 1, "10", "150")

	// Shares leave one fund and land in the other at the same price.
	mu := &Mutation{
		ClubID: 1,
		PositionChanges: []PositionChange{
			{FundID: 1, AssetID: 1, Quantity: d("6"), AvgCostBasis: d("150")},
			{FundID: 2, AssetID: 1, Quantity: d("4"), AvgCostBasis: d("150")},
		},
	}
	assert.NoError(t, eng.checkConservation(context.Background(), mu))

	// Dropping shares without a matching gain is a violation.
	bad := &Mutation{
		ClubID: 1,
		PositionChanges: []PositionChange{
			{FundID: 1, AssetID: 1, Quantity: d("6"), AvgCostBasis: d("150")},
		},
	}
	var violation *ConservationViolationError
	assert.ErrorAs(t, eng.checkConservation(context.Background(), bad), &violation)
}
