package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/investmentclub/treasury/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory Store used by the engine tests
// ---------------------------------------------------------------------------

type memStore struct {
	mu sync.Mutex

	clubs        map[int64]*models.Club
	funds        map[int64]*models.Fund
	splits       map[int64][]*models.FundSplit
	assets       map[int64]*models.Asset
	positions    map[string]*models.Position
	memberships  map[string]*models.ClubMembership
	snapshots    []*models.UnitValueSnapshot
	transactions []*models.Transaction
	memberTxs    []*models.MemberTransaction

	nextID    int64
	commitErr error
	commits   int
}

func newMemStore() *memStore {
	return &memStore{
		clubs:       make(map[int64]*models.Club),
		funds:       make(map[int64]*models.Fund),
		splits:      make(map[int64][]*models.FundSplit),
		assets:      make(map[int64]*models.Asset),
		positions:   make(map[string]*models.Position),
		memberships: make(map[string]*models.ClubMembership),
		nextID:      1000,
	}
}

func posKey(fundID, assetID int64) string {
	return fmt.Sprintf("%d:%d", fundID, assetID)
}

func memberKey(userID, clubID int64) string {
	return fmt.Sprintf("%d:%d", userID, clubID)
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

// --- seeding helpers ---

func (s *memStore) addClub(id int64, bank string) *models.Club {
	c := &models.Club{ID: id, Name: fmt.Sprintf("club-%d", id), BankAccountBalance: d(bank), IsActive: true}
	s.clubs[id] = c
	return c
}

func (s *memStore) addFund(id, clubID int64, cash string, active bool) *models.Fund {
	f := &models.Fund{ID: id, ClubID: clubID, Name: fmt.Sprintf("fund-%d", id), IsActive: active, BrokerageCashBalance: d(cash)}
	s.funds[id] = f
	return f
}

func (s *memStore) setSplits(clubID int64, pcts map[int64]string) {
	var splits []*models.FundSplit
	for fundID, pct := range pcts {
		splits = append(splits, &models.FundSplit{FundID: fundID, ClubID: clubID, Percentage: d(pct)})
	}
	s.splits[clubID] = splits
}

func (s *memStore) addAsset(id int64, symbol string, typ models.AssetType, price string) *models.Asset {
	a := &models.Asset{ID: id, Symbol: symbol, AssetType: typ, CurrentPrice: d(price)}
	s.assets[id] = a
	return a
}

func (s *memStore) addPosition(fundID, assetID int64, qty, basis string) *models.Position {
	p := &models.Position{ID: s.id(), FundID: fundID, AssetID: assetID, Quantity: d(qty), AvgCostBasis: d(basis)}
	s.positions[posKey(fundID, assetID)] = p
	return p
}

func (s *memStore) addMembership(userID, clubID int64, role models.Role, units string) *models.ClubMembership {
	m := &models.ClubMembership{UserID: userID, ClubID: clubID, Role: role, UnitsHeld: d(units)}
	s.memberships[memberKey(userID, clubID)] = m
	return m
}

func (s *memStore) addSnapshot(clubID int64, date time.Time, total, units, unitValue string) *models.UnitValueSnapshot {
	snap := &models.UnitValueSnapshot{
		ID:                    s.id(),
		ClubID:                clubID,
		ValuationDate:         date,
		TotalClubValue:        d(total),
		TotalUnitsOutstanding: d(units),
		UnitValue:             d(unitValue),
		CreatedAt:             time.Now(),
	}
	s.snapshots = append(s.snapshots, snap)
	return snap
}

// --- Store implementation ---

func (s *memStore) GetClub(_ context.Context, clubID int64) (*models.Club, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clubs[clubID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) GetFund(_ context.Context, fundID int64) (*models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.funds[fundID]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) GetFundsByClub(_ context.Context, clubID int64) ([]*models.Fund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var funds []*models.Fund
	for _, f := range s.funds {
		if f.ClubID == clubID {
			cp := *f
			funds = append(funds, &cp)
		}
	}
	return funds, nil
}

func (s *memStore) GetFundSplits(_ context.Context, clubID int64) ([]*models.FundSplit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.FundSplit(nil), s.splits[clubID]...), nil
}

func (s *memStore) GetAsset(_ context.Context, assetID int64) (*models.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[assetID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) GetPosition(_ context.Context, fundID, assetID int64) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[posKey(fundID, assetID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetPositionsByFund(_ context.Context, fundID int64) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var positions []*models.Position
	for _, p := range s.positions {
		if p.FundID == fundID {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	return positions, nil
}

func (s *memStore) GetPositionsByClub(_ context.Context, clubID int64) ([]*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var positions []*models.Position
	for _, p := range s.positions {
		if f, ok := s.funds[p.FundID]; ok && f.ClubID == clubID {
			cp := *p
			positions = append(positions, &cp)
		}
	}
	return positions, nil
}

func (s *memStore) GetMembership(_ context.Context, userID, clubID int64) (*models.ClubMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey(userID, clubID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMembershipsByClub(_ context.Context, clubID int64) ([]*models.ClubMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var memberships []*models.ClubMembership
	for _, m := range s.memberships {
		if m.ClubID == clubID {
			cp := *m
			memberships = append(memberships, &cp)
		}
	}
	return memberships, nil
}

func (s *memStore) LatestSnapshot(_ context.Context, clubID int64) (*models.UnitValueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSnapshotLocked(clubID, nil), nil
}

func (s *memStore) LatestSnapshotOn(_ context.Context, clubID int64, date time.Time) (*models.UnitValueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSnapshotLocked(clubID, &date), nil
}

func (s *memStore) latestSnapshotLocked(clubID int64, onOrBefore *time.Time) *models.UnitValueSnapshot {
	var best *models.UnitValueSnapshot
	for _, snap := range s.snapshots {
		if snap.ClubID != clubID {
			continue
		}
		if onOrBefore != nil && snap.ValuationDate.After(*onOrBefore) {
			continue
		}
		if best == nil || snap.ValuationDate.After(best.ValuationDate) ||
			(snap.ValuationDate.Equal(best.ValuationDate) && snap.ID > best.ID) {
			best = snap
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (s *memStore) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transactions {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListTransactions(_ context.Context, f models.TransactionFilter) ([]*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.ClubID != f.ClubID {
			continue
		}
		if f.FundID != nil {
			match := (t.FundID != nil && *t.FundID == *f.FundID) ||
				(t.TargetFundID != nil && *t.TargetFundID == *f.FundID)
			if !match {
				continue
			}
		}
		if f.Type != nil && t.Type != *f.Type {
			continue
		}
		if f.Symbol != "" {
			if t.AssetID == nil {
				continue
			}
			a, ok := s.assets[*t.AssetID]
			if !ok || a.Symbol != f.Symbol {
				continue
			}
		}
		if f.From != nil && t.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && t.Date.After(*f.To) {
			continue
		}
		cp := *t
		out = append(out, &cp)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListMemberTransactions(_ context.Context, clubID, userID int64) ([]*models.MemberTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MemberTransaction
	for i := len(s.memberTxs) - 1; i >= 0; i-- {
		m := s.memberTxs[i]
		if m.ClubID == clubID && m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Commit(_ context.Context, mu *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++

	if !mu.BankDelta.IsZero() {
		club, ok := s.clubs[mu.ClubID]
		if !ok {
			return fmt.Errorf("club not found: %d", mu.ClubID)
		}
		club.BankAccountBalance = club.BankAccountBalance.Add(mu.BankDelta)
	}
	for fundID, delta := range mu.FundCashDeltas {
		fund, ok := s.funds[fundID]
		if !ok {
			return fmt.Errorf("fund not found: %d", fundID)
		}
		fund.BrokerageCashBalance = fund.BrokerageCashBalance.Add(delta)
	}
	for _, pc := range mu.PositionChanges {
		key := posKey(pc.FundID, pc.AssetID)
		if pc.Quantity.IsZero() {
			delete(s.positions, key)
			continue
		}
		s.positions[key] = &models.Position{
			ID:           s.id(),
			FundID:       pc.FundID,
			AssetID:      pc.AssetID,
			Quantity:     pc.Quantity,
			AvgCostBasis: pc.AvgCostBasis,
		}
	}
	for _, uc := range mu.UnitsChanges {
		m, ok := s.memberships[memberKey(uc.UserID, uc.ClubID)]
		if !ok {
			return fmt.Errorf("membership not found: %d", uc.UserID)
		}
		m.UnitsHeld = m.UnitsHeld.Add(uc.Delta)
	}
	if mu.ReplaceSplits != nil {
		s.splits[mu.ClubID] = append([]*models.FundSplit(nil), mu.ReplaceSplits...)
	}
	for _, t := range mu.Transactions {
		t.ID = s.id()
		t.CreatedAt = time.Now()
		cp := *t
		s.transactions = append(s.transactions, &cp)
	}
	for _, m := range mu.MemberTransactions {
		m.ID = s.id()
		m.CreatedAt = time.Now()
		cp := *m
		s.memberTxs = append(s.memberTxs, &cp)
	}
	for _, snap := range mu.Snapshots {
		snap.ID = s.id()
		snap.CreatedAt = time.Now()
		cp := *snap
		s.snapshots = append(s.snapshots, &cp)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shared fixtures
// ---------------------------------------------------------------------------

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	admin  = Actor{UserID: 1, Role: models.RoleAdmin}
	member = func(userID int64) Actor { return Actor{UserID: userID, Role: models.RoleMember} }
)

// twoFundClub seeds the standard fixture: club 1 with $10,000 in the
// bank, fund 1 split 60% and fund 2 split 40%, both with empty
// brokerage accounts.
func twoFundClub() (*Engine, *memStore) {
	store := newMemStore()
	store.addClub(1, "10000")
	store.addFund(1, 1, "0", true)
	store.addFund(2, 1, "0", true)
	store.setSplits(1, map[int64]string{1: "0.6", 2: "0.4"})
	store.addMembership(1, 1, models.RoleAdmin, "0")
	return New(store), store
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s %v", want, got, msgAndArgs)
}
