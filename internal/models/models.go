package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Club represents an investment club with a shared bank account.
// The bank account holds cash that has not yet been allocated to a
// fund's brokerage account.
type Club struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name"`
	BankAccountBalance decimal.Decimal `json:"bank_account_balance"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Fund is a sub-portfolio within a club holding its own brokerage cash
// and security positions.
type Fund struct {
	ID                   int64           `json:"id"`
	ClubID               int64           `json:"club_id"`
	Name                 string          `json:"name"`
	IsActive             bool            `json:"is_active"`
	BrokerageCashBalance decimal.Decimal `json:"brokerage_cash_balance"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// FundSplit assigns a fund its percentage of incoming club cash.
// Percentages are expressed as decimals in [0, 1]; the splits of a
// club's active funds must sum to 1.0 at allocation time.
type FundSplit struct {
	FundID     int64           `json:"fund_id"`
	ClubID     int64           `json:"club_id"`
	Percentage decimal.Decimal `json:"percentage"`
}

// AssetType classifies a tradable asset.
type AssetType string

const (
	AssetTypeStock  AssetType = "stock"
	AssetTypeETF    AssetType = "etf"
	AssetTypeOption AssetType = "option"
)

// Asset is a tradable security. CurrentPrice is refreshed externally
// (market-data feed); the engine only ever reads it.
type Asset struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	AssetType    AssetType       `json:"asset_type"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PriceUpdated time.Time       `json:"price_updated_at"`
}

// Position is a fund's holding in a single asset. Quantity is
// fractional; AvgCostBasis is the weighted-average acquisition price
// per share and is only recomputed on buys.
type Position struct {
	ID           int64           `json:"id"`
	FundID       int64           `json:"fund_id"`
	AssetID      int64           `json:"asset_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MarketValue returns quantity x price.
func (p *Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// CostValue returns quantity x average cost basis.
func (p *Position) CostValue() decimal.Decimal {
	return p.Quantity.Mul(p.AvgCostBasis)
}

// UnrealizedPnL returns market value minus cost value at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.MarketValue(price).Sub(p.CostValue())
}

// Role is the authorization role a caller supplies with each request.
// Role checking is the engine's concern; how the role was established
// (sessions, tokens) is not.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleMember   Role = "member"
	RoleReadOnly Role = "readonly"
)

// ClubMembership links a user to a club and tracks the running balance
// of ownership units the member holds.
type ClubMembership struct {
	UserID    int64           `json:"user_id"`
	ClubID    int64           `json:"club_id"`
	Role      Role            `json:"role"`
	UnitsHeld decimal.Decimal `json:"units_held"`
	JoinedAt  time.Time       `json:"joined_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MemberTransactionType distinguishes member cash movements.
type MemberTransactionType string

const (
	MemberDeposit    MemberTransactionType = "deposit"
	MemberWithdrawal MemberTransactionType = "withdrawal"
)

// MemberTransaction records a member deposit or withdrawal together
// with the units issued/redeemed and the unit value that priced them.
// UnitValueUsed is pinned when the transaction is recorded and never
// recomputed, so the audit trail reproduces the exact price each
// member transacted at.
type MemberTransaction struct {
	ID              int64                 `json:"id"`
	UserID          int64                 `json:"user_id"`
	ClubID          int64                 `json:"club_id"`
	Type            MemberTransactionType `json:"type"`
	Date            time.Time             `json:"date"`
	Amount          decimal.Decimal       `json:"amount"`
	UnitsTransacted decimal.Decimal       `json:"units_transacted"`
	UnitValueUsed   decimal.Decimal       `json:"unit_value_used"`
	CreatedAt       time.Time             `json:"created_at"`
}

// UnitValueSnapshot captures the club's total value, units outstanding
// and derived unit value at a valuation date. Snapshots are immutable;
// revaluing a date appends a new snapshot rather than editing one.
type UnitValueSnapshot struct {
	ID                    int64           `json:"id"`
	ClubID                int64           `json:"club_id"`
	ValuationDate         time.Time       `json:"valuation_date"`
	TotalClubValue        decimal.Decimal `json:"total_club_value"`
	TotalUnitsOutstanding decimal.Decimal `json:"total_units_outstanding"`
	UnitValue             decimal.Decimal `json:"unit_value"`
	CreatedAt             time.Time       `json:"created_at"`
}
