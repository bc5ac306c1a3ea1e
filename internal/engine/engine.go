package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/metrics"
	"github.com/investmentclub/treasury/internal/models"
)

// Money amounts are kept at two decimal places, unit and share
// quantities at six, and unit values at four.
const (
	cashPrecision      = 2
	unitPrecision      = 6
	unitValuePrecision = 4
)

// seedUnitValue prices the first units ever issued, while the club has
// no units outstanding and unit value is otherwise undefined. Fixed
// policy: $10.00 per unit.
var seedUnitValue = decimal.NewFromInt(10)

// Actor identifies the caller of a command. The role is supplied by
// the presentation layer; establishing it (sessions, tokens) is out of
// the engine's scope.
type Actor struct {
	UserID int64
	Role   models.Role
}

// Engine is the authoritative valuation and allocation engine for all
// clubs. Every mutating operation on a club is serialized behind that
// club's lock and committed atomically through the Store; reads run
// concurrently against last-committed state.
type Engine struct {
	store Store

	mu        sync.Mutex
	clubLocks map[int64]*sync.Mutex
	halted    map[int64]*ConservationViolationError
}

// New creates an Engine backed by the given store.
func New(store Store) *Engine {
	return &Engine{
		store:     store,
		clubLocks: make(map[int64]*sync.Mutex),
		halted:    make(map[int64]*ConservationViolationError),
	}
}

// lockClub serializes mutations per club. Returns the unlock func.
func (e *Engine) lockClub(clubID int64) func() {
	e.mu.Lock()
	l, ok := e.clubLocks[clubID]
	if !ok {
		l = &sync.Mutex{}
		e.clubLocks[clubID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// haltedErr returns the recorded conservation violation for a halted
// club, or nil when the club accepts mutations.
func (e *Engine) haltedErr(clubID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.halted[clubID]; ok {
		return v
	}
	return nil
}

func (e *Engine) halt(clubID int64, v *ConservationViolationError) {
	e.mu.Lock()
	e.halted[clubID] = v
	e.mu.Unlock()
}

// ClearHalt re-enables mutations on a club after operator review.
func (e *Engine) ClearHalt(actor Actor, clubID int64) error {
	if err := requireAdmin(actor, "clear a halted club"); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.halted, clubID)
	e.mu.Unlock()
	return nil
}

func requireAdmin(actor Actor, op string) error {
	if actor.Role != models.RoleAdmin {
		return &AuthorizationError{Role: actor.Role, Op: op}
	}
	return nil
}

// requireSelfOrAdmin allows admins, and members acting on their own
// membership.
func requireSelfOrAdmin(actor Actor, userID int64, op string) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role == models.RoleMember && actor.UserID == userID {
		return nil
	}
	return &AuthorizationError{Role: actor.Role, Op: op}
}

func (e *Engine) getClub(ctx context.Context, clubID int64) (*models.Club, error) {
	club, err := e.store.GetClub(ctx, clubID)
	if err != nil {
		return nil, err
	}
	if club == nil {
		return nil, &NotFoundError{Entity: "club", ID: clubID}
	}
	return club, nil
}

func (e *Engine) getFund(ctx context.Context, fundID int64) (*models.Fund, error) {
	fund, err := e.store.GetFund(ctx, fundID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		return nil, &NotFoundError{Entity: "fund", ID: fundID}
	}
	return fund, nil
}

func (e *Engine) getAsset(ctx context.Context, assetID int64) (*models.Asset, error) {
	asset, err := e.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, &NotFoundError{Entity: "asset", ID: assetID}
	}
	return asset, nil
}

func (e *Engine) getMembership(ctx context.Context, userID, clubID int64) (*models.ClubMembership, error) {
	m, err := e.store.GetMembership(ctx, userID, clubID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &NotFoundError{Entity: "membership", ID: userID}
	}
	return m, nil
}

// commit applies a mutation. For conserving mutations (pure transfers)
// it independently rechecks that the deltas leave total tracked club
// value unchanged before anything is written; a failed check halts the
// club. The check recomputes position value deltas from stored state
// and current prices rather than trusting the caller's arithmetic.
func (e *Engine) commit(ctx context.Context, mu *Mutation, conserving bool) error {
	start := time.Now()
	if conserving {
		if err := e.checkConservation(ctx, mu); err != nil {
			metrics.MutationFailures.WithLabelValues("conservation_violation").Inc()
			return err
		}
	}
	if err := e.store.Commit(ctx, mu); err != nil {
		metrics.MutationFailures.WithLabelValues("store").Inc()
		return err
	}
	for _, tx := range mu.Transactions {
		metrics.TransactionsRecorded.WithLabelValues(string(tx.Type)).Inc()
	}
	metrics.MutationDuration.Observe(time.Since(start).Seconds())
	return nil
}

// checkConservation verifies that a transfer mutation nets to zero
// value: cash deltas sum to zero and every position quantity removed
// somewhere reappears elsewhere at the same market price.
func (e *Engine) checkConservation(ctx context.Context, mu *Mutation) error {
	delta := mu.BankDelta
	for _, d := range mu.FundCashDeltas {
		delta = delta.Add(d)
	}
	for _, pc := range mu.PositionChanges {
		old, err := e.store.GetPosition(ctx, pc.FundID, pc.AssetID)
		if err != nil {
			return err
		}
		oldQty := decimal.Zero
		if old != nil {
			oldQty = old.Quantity
		}
		asset, err := e.getAsset(ctx, pc.AssetID)
		if err != nil {
			return err
		}
		delta = delta.Add(pc.Quantity.Sub(oldQty).Mul(asset.CurrentPrice))
	}
	if !delta.IsZero() {
		before, err := e.clubTotalValue(ctx, mu.ClubID)
		if err != nil {
			before = decimal.Zero
		}
		v := &ConservationViolationError{
			ClubID: mu.ClubID,
			Before: before,
			After:  before.Add(delta),
		}
		e.halt(mu.ClubID, v)
		return v
	}
	return nil
}
