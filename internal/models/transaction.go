package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType tags the variant of a ledger transaction. Code that
// dispatches on a TransactionType must switch exhaustively over the
// constants below and treat anything else as an error, so a new
// variant cannot slip through valuation or ledger display unhandled.
type TransactionType string

const (
	TxBuyStock                  TransactionType = "buy_stock"
	TxSellStock                 TransactionType = "sell_stock"
	TxBuyOption                 TransactionType = "buy_option"
	TxSellOption                TransactionType = "sell_option"
	TxOptionExpiration          TransactionType = "option_expiration"
	TxDividend                  TransactionType = "dividend"
	TxBrokerageInterest         TransactionType = "brokerage_interest"
	TxClubExpense               TransactionType = "club_expense"
	TxBankInterest              TransactionType = "bank_interest"
	TxBankToBrokerage           TransactionType = "bank_to_brokerage"
	TxBrokerageToBank           TransactionType = "brokerage_to_bank"
	TxInterfundCashTransfer     TransactionType = "interfund_cash_transfer"
	TxInterfundPositionTransfer TransactionType = "interfund_position_transfer"
)

// AllTransactionTypes lists every ledger transaction variant.
var AllTransactionTypes = []TransactionType{
	TxBuyStock, TxSellStock, TxBuyOption, TxSellOption, TxOptionExpiration,
	TxDividend, TxBrokerageInterest, TxClubExpense, TxBankInterest,
	TxBankToBrokerage, TxBrokerageToBank,
	TxInterfundCashTransfer, TxInterfundPositionTransfer,
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	for _, known := range AllTransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsTransfer reports whether the variant only moves value between
// tracked balances. Transfers must conserve total club value exactly.
func (t TransactionType) IsTransfer() bool {
	switch t {
	case TxBankToBrokerage, TxBrokerageToBank,
		TxInterfundCashTransfer, TxInterfundPositionTransfer:
		return true
	}
	return false
}

// Transaction is one immutable entry in the club's append-only ledger.
// Which fields are required depends on Type; see engine validation.
// FundID is the primary fund (source fund for inter-fund transfers),
// TargetFundID the receiving fund on inter-fund variants. Corrections
// are new reversing transactions pointing back via Reverses.
type Transaction struct {
	ID           int64           `json:"id"`
	ClubID       int64           `json:"club_id"`
	Type         TransactionType `json:"type"`
	Date         time.Time       `json:"date"`
	FundID       *int64          `json:"fund_id,omitempty"`
	TargetFundID *int64          `json:"target_fund_id,omitempty"`
	AssetID      *int64          `json:"asset_id,omitempty"`
	Quantity     decimal.Decimal `json:"quantity,omitempty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Fees         decimal.Decimal `json:"fees,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Reverses     *int64          `json:"reverses,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TransactionFilter narrows a ledger listing. Zero-valued fields are
// ignored. Results are always ordered by date descending.
type TransactionFilter struct {
	ClubID int64
	FundID *int64
	Type   *TransactionType
	Symbol string
	From   *time.Time
	To     *time.Time
	Limit  int
}
