package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/models"
)

// The engine reports every domain failure as one of the typed errors
// below so callers can match with errors.As and render a precise
// message without re-deriving amounts. Validation failures are always
// returned before any state change.

// ValidationError reports malformed or missing command input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity reference.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %d", e.Entity, e.ID)
}

// AuthorizationError reports a caller role insufficient for the
// attempted operation.
type AuthorizationError struct {
	Role models.Role
	Op   string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("role %q is not permitted to %s", e.Role, e.Op)
}

// AllocationImbalanceError reports active fund splits that do not sum
// to 1.0 within tolerance. No balances are changed when it is returned.
type AllocationImbalanceError struct {
	ClubID int64
	Sum    decimal.Decimal
}

func (e *AllocationImbalanceError) Error() string {
	return fmt.Sprintf("club %d: active fund splits sum to %s, want 1.0", e.ClubID, e.Sum)
}

// InsufficientFundsError reports a balance or share quantity too small
// for the requested movement. FundID is zero when the club bank
// account is the short balance.
type InsufficientFundsError struct {
	FundID    int64
	Resource  string // "cash", "bank cash" or "shares"
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	if e.FundID == 0 {
		return fmt.Sprintf("insufficient %s: requested %s, available %s",
			e.Resource, e.Requested, e.Available)
	}
	return fmt.Sprintf("fund %d: insufficient %s: requested %s, available %s",
		e.FundID, e.Resource, e.Requested, e.Available)
}

// InsufficientEquityError reports a withdrawal exceeding the member's
// unit equity at the prevailing unit value.
type InsufficientEquityError struct {
	UserID    int64
	ClubID    int64
	Requested decimal.Decimal
	Equity    decimal.Decimal
}

func (e *InsufficientEquityError) Error() string {
	return fmt.Sprintf("member %d in club %d: withdrawal %s exceeds equity %s",
		e.UserID, e.ClubID, e.Requested, e.Equity)
}

// WithdrawalLiquidityError reports a withdrawal that the member's
// equity covers but the club bank account cannot pay out. Distinct
// from InsufficientEquityError so the caller can suggest liquidating
// brokerage cash first.
type WithdrawalLiquidityError struct {
	ClubID      int64
	Requested   decimal.Decimal
	BankBalance decimal.Decimal
}

func (e *WithdrawalLiquidityError) Error() string {
	return fmt.Sprintf("club %d: bank balance %s cannot cover withdrawal %s",
		e.ClubID, e.BankBalance, e.Requested)
}

// ConservationViolationError reports a transfer mutation whose deltas
// would change total tracked club value. It indicates a defect, not
// bad input: once raised, the engine halts all further mutations on
// the club until an operator clears it.
type ConservationViolationError struct {
	ClubID int64
	Before decimal.Decimal
	After  decimal.Decimal
}

func (e *ConservationViolationError) Error() string {
	return fmt.Sprintf("club %d: conservation violation: total value %s -> %s; club halted",
		e.ClubID, e.Before, e.After)
}

// ConcurrencyConflictError reports a store-level conflict between two
// concurrent mutations on the same club.
type ConcurrencyConflictError struct {
	ClubID int64
	Reason string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("club %d: concurrent mutation conflict: %s", e.ClubID, e.Reason)
}
