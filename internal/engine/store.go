package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// Store is the engine's persistence boundary. Lookups return the last
// committed state and report a missing row as (nil, nil); the engine
// converts that into a NotFoundError. Commit applies a whole Mutation
// atomically: every balance delta, position change, unit change and
// appended record lands together or not at all.
type Store interface {
	GetClub(ctx context.Context, clubID int64) (*models.Club, error)
	GetFund(ctx context.Context, fundID int64) (*models.Fund, error)
	GetFundsByClub(ctx context.Context, clubID int64) ([]*models.Fund, error)
	GetFundSplits(ctx context.Context, clubID int64) ([]*models.FundSplit, error)

	GetAsset(ctx context.Context, assetID int64) (*models.Asset, error)
	GetPosition(ctx context.Context, fundID, assetID int64) (*models.Position, error)
	GetPositionsByFund(ctx context.Context, fundID int64) ([]*models.Position, error)
	GetPositionsByClub(ctx context.Context, clubID int64) ([]*models.Position, error)

	GetMembership(ctx context.Context, userID, clubID int64) (*models.ClubMembership, error)
	GetMembershipsByClub(ctx context.Context, clubID int64) ([]*models.ClubMembership, error)

	LatestSnapshot(ctx context.Context, clubID int64) (*models.UnitValueSnapshot, error)
	// LatestSnapshotOn returns the newest snapshot whose valuation date
	// is on or before the given date.
	LatestSnapshotOn(ctx context.Context, clubID int64, date time.Time) (*models.UnitValueSnapshot, error)

	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, f models.TransactionFilter) ([]*models.Transaction, error)
	ListMemberTransactions(ctx context.Context, clubID, userID int64) ([]*models.MemberTransaction, error)

	Commit(ctx context.Context, mu *Mutation) error
}

// Mutation is one atomic unit of work against a single club aggregate.
// Balances carry deltas rather than absolute values; positions and
// splits are replacements. The ledger fields are appended, never
// updated.
type Mutation struct {
	ClubID int64

	// BankDelta is added to the club's bank account balance.
	BankDelta decimal.Decimal

	// FundCashDeltas maps fund id to the amount added to its
	// brokerage cash balance.
	FundCashDeltas map[int64]decimal.Decimal

	// PositionChanges replace the (fund, asset) rows they name; a zero
	// quantity deletes the row.
	PositionChanges []PositionChange

	// UnitsChanges adjust membership running unit balances.
	UnitsChanges []UnitsChange

	// ReplaceSplits, when non-nil, replaces the club's fund splits.
	ReplaceSplits []*models.FundSplit

	Transactions       []*models.Transaction
	MemberTransactions []*models.MemberTransaction
	Snapshots          []*models.UnitValueSnapshot
}

// PositionChange is the post-mutation state of one position row.
type PositionChange struct {
	FundID       int64
	AssetID      int64
	Quantity     decimal.Decimal
	AvgCostBasis decimal.Decimal
}

// UnitsChange adjusts one member's unit balance by Delta.
type UnitsChange struct {
	UserID int64
	ClubID int64
	Delta  decimal.Decimal
}

// addFundCash accumulates a cash delta for a fund.
func (m *Mutation) addFundCash(fundID int64, delta decimal.Decimal) {
	if m.FundCashDeltas == nil {
		m.FundCashDeltas = make(map[int64]decimal.Decimal)
	}
	m.FundCashDeltas[fundID] = m.FundCashDeltas[fundID].Add(delta)
}
