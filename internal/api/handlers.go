package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/investmentclub/treasury/internal/database"
	"github.com/investmentclub/treasury/internal/engine"
	"github.com/investmentclub/treasury/internal/kafka"
	"github.com/investmentclub/treasury/internal/models"
	"github.com/investmentclub/treasury/internal/redis"
)

// Handler holds dependencies for HTTP handlers. The engine is the only
// write path; the handler never touches balances itself.
type Handler struct {
	engine   *engine.Engine
	db       *database.DB
	producer *kafka.Producer
	redis    *redis.Client
}

// NewHandler creates a new Handler
func NewHandler(eng *engine.Engine, db *database.DB, producer *kafka.Producer, redisClient *redis.Client) *Handler {
	return &Handler{
		engine:   eng,
		db:       db,
		producer: producer,
		redis:    redisClient,
	}
}

// actorFrom reads the caller identity the upstream gateway supplies.
// Establishing it (sessions, tokens) happens before requests reach us.
func actorFrom(r *http.Request) engine.Actor {
	userID, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	role := models.Role(r.Header.Get("X-Role"))
	if role == "" {
		role = models.RoleReadOnly
	}
	return engine.Actor{UserID: userID, Role: role}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

// parseDate accepts a plain date or a full RFC3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

type transactionRequest struct {
	Type     string          `json:"type"`
	Date     string          `json:"date"`
	FundID   *int64          `json:"fund_id,omitempty"`
	AssetID  *int64          `json:"asset_id,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Fees     decimal.Decimal `json:"fees"`
	Notes    string          `json:"notes"`
	Reverses *int64          `json:"reverses,omitempty"`
}

// RecordTransaction handles POST /clubs/{clubID}/transactions for
// trade, income and expense variants.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	tx, err := h.engine.RecordTransaction(r.Context(), actorFrom(r), engine.TransactionCommand{
		ClubID:   clubID,
		Type:     models.TransactionType(req.Type),
		Date:     date,
		FundID:   req.FundID,
		AssetID:  req.AssetID,
		Quantity: req.Quantity,
		Price:    req.Price,
		Amount:   req.Amount,
		Fees:     req.Fees,
		Notes:    req.Notes,
		Reverses: req.Reverses,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishTransactions(r, tx)
	respondJSON(w, http.StatusCreated, tx)
}

type allocationRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
	Notes  string          `json:"notes"`
}

// Allocate handles POST /clubs/{clubID}/allocations — the
// BankToBrokerage command, split across active funds.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	var req allocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	txs, err := h.engine.Allocate(r.Context(), actorFrom(r), clubID, req.Amount, date, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishTransactions(r, txs...)
	respondJSON(w, http.StatusCreated, txs)
}

type transferRequest struct {
	FundID       int64           `json:"fund_id"`
	SourceFundID int64           `json:"source_fund_id"`
	TargetFundID int64           `json:"target_fund_id"`
	AssetID      int64           `json:"asset_id"`
	Amount       decimal.Decimal `json:"amount"`
	Quantity     decimal.Decimal `json:"quantity"`
	Date         string          `json:"date"`
	Notes        string          `json:"notes"`
}

// BrokerageToBank handles POST /clubs/{clubID}/transfers/brokerage-to-bank
func (h *Handler) BrokerageToBank(w http.ResponseWriter, r *http.Request) {
	clubID, req, date, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	tx, err := h.engine.TransferBrokerageToBank(r.Context(), actorFrom(r), clubID, req.FundID, req.Amount, date, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishTransactions(r, tx)
	respondJSON(w, http.StatusCreated, tx)
}

// InterfundCash handles POST /clubs/{clubID}/transfers/interfund-cash
func (h *Handler) InterfundCash(w http.ResponseWriter, r *http.Request) {
	clubID, req, date, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	tx, err := h.engine.TransferInterfundCash(r.Context(), actorFrom(r), clubID,
		req.SourceFundID, req.TargetFundID, req.Amount, date, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishTransactions(r, tx)
	respondJSON(w, http.StatusCreated, tx)
}

// InterfundPosition handles POST /clubs/{clubID}/transfers/interfund-position
func (h *Handler) InterfundPosition(w http.ResponseWriter, r *http.Request) {
	clubID, req, date, ok := h.decodeTransfer(w, r)
	if !ok {
		return
	}
	tx, err := h.engine.TransferInterfundPosition(r.Context(), actorFrom(r), clubID,
		req.SourceFundID, req.TargetFundID, req.AssetID, req.Quantity, date, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	h.publishTransactions(r, tx)
	respondJSON(w, http.StatusCreated, tx)
}

func (h *Handler) decodeTransfer(w http.ResponseWriter, r *http.Request) (int64, *transferRequest, time.Time, bool) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return 0, nil, time.Time{}, false
	}
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return 0, nil, time.Time{}, false
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return 0, nil, time.Time{}, false
	}
	return clubID, &req, date, true
}

type splitsRequest struct {
	Splits []struct {
		FundID     int64           `json:"fund_id"`
		Percentage decimal.Decimal `json:"percentage"`
	} `json:"splits"`
}

// SaveSplits handles PUT /clubs/{clubID}/splits
func (h *Handler) SaveSplits(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	var req splitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	splits := make([]*models.FundSplit, 0, len(req.Splits))
	for _, s := range req.Splits {
		splits = append(splits, &models.FundSplit{FundID: s.FundID, Percentage: s.Percentage})
	}
	if err := h.engine.SaveFundSplits(r.Context(), actorFrom(r), clubID, splits); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, splits)
}

type snapshotRequest struct {
	Date string `json:"date"`
}

// Recalculate handles POST /clubs/{clubID}/snapshots
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date := time.Now().UTC()
	if req.Date != "" {
		if date, err = parseDate(req.Date); err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
	}

	snap, err := h.engine.Recalculate(r.Context(), actorFrom(r), clubID, date)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.producer != nil {
		if err := h.producer.PublishSnapshot(r.Context(), snap); err != nil {
			log.Printf("Warning: failed to publish snapshot event: %v", err)
		}
	}
	respondJSON(w, http.StatusCreated, snap)
}

type memberCashRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Date   string          `json:"date"`
}

// Deposit handles POST /clubs/{clubID}/members/{userID}/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.memberCash(w, r, h.engine.RecordDeposit)
}

// Withdrawal handles POST /clubs/{clubID}/members/{userID}/withdrawals
func (h *Handler) Withdrawal(w http.ResponseWriter, r *http.Request) {
	h.memberCash(w, r, h.engine.RecordWithdrawal)
}

func (h *Handler) memberCash(w http.ResponseWriter, r *http.Request,
	record func(ctx context.Context, actor engine.Actor, clubID, userID int64,
		amount decimal.Decimal, date time.Time) (*models.MemberTransaction, error)) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	var req memberCashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	mtx, err := record(r.Context(), actorFrom(r), clubID, userID, req.Amount, date)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.producer != nil {
		if err := h.producer.PublishMemberTransaction(r.Context(), mtx); err != nil {
			log.Printf("Warning: failed to publish member transaction event: %v", err)
		}
	}
	respondJSON(w, http.StatusCreated, mtx)
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// GetValuation handles GET /clubs/{clubID}/valuation[?as_of=YYYY-MM-DD]
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	var asOf *time.Time
	if s := r.URL.Query().Get("as_of"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			http.Error(w, "invalid as_of date", http.StatusBadRequest)
			return
		}
		asOf = &t
	}

	cv, err := h.engine.GetClubValuation(r.Context(), clubID, asOf)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cv)
}

// ListTransactions handles GET /clubs/{clubID}/transactions with
// fund_id, type, symbol, from, to and limit query filters.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	f := models.TransactionFilter{ClubID: clubID}
	q := r.URL.Query()
	if s := q.Get("fund_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid fund_id", http.StatusBadRequest)
			return
		}
		f.FundID = &id
	}
	if s := q.Get("type"); s != "" {
		t := models.TransactionType(s)
		f.Type = &t
	}
	f.Symbol = q.Get("symbol")
	if s := q.Get("from"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		f.From = &t
	}
	if s := q.Get("to"); s != "" {
		t, err := parseDate(s)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		f.To = &t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	txs, err := h.engine.ListTransactions(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, txs)
}

// GetFundDetail handles GET /funds/{fundID}
func (h *Handler) GetFundDetail(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathID(r, "fundID")
	if err != nil {
		http.Error(w, "invalid fund id", http.StatusBadRequest)
		return
	}
	fv, err := h.engine.GetFundDetail(r.Context(), fundID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fv)
}

// GetMemberEquity handles GET /clubs/{clubID}/members/{userID}/equity
func (h *Handler) GetMemberEquity(w http.ResponseWriter, r *http.Request) {
	clubID, err := pathID(r, "clubID")
	if err != nil {
		http.Error(w, "invalid club id", http.StatusBadRequest)
		return
	}
	userID, err := pathID(r, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	eq, err := h.engine.GetMemberEquity(r.Context(), clubID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, eq)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  map[string]string{},
	}
	services := health["services"].(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if h.producer != nil {
		services["kafka"] = "configured"
	} else {
		services["kafka"] = "not configured"
	}

	if !allHealthy {
		health["status"] = "degraded"
	}

	respondJSON(w, http.StatusOK, health)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (h *Handler) publishTransactions(r *http.Request, txs ...*models.Transaction) {
	if h.producer == nil {
		return
	}
	for _, tx := range txs {
		if err := h.producer.PublishTransaction(r.Context(), tx); err != nil {
			log.Printf("Warning: failed to publish transaction event: %v", err)
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

// writeError maps engine errors onto HTTP statuses and a structured
// body so the UI can render a precise message without re-deriving
// amounts.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Kind: "internal", Message: err.Error()}

	var (
		validation   *engine.ValidationError
		notFound     *engine.NotFoundError
		authz        *engine.AuthorizationError
		imbalance    *engine.AllocationImbalanceError
		insufficient *engine.InsufficientFundsError
		equity       *engine.InsufficientEquityError
		liquidity    *engine.WithdrawalLiquidityError
		conservation *engine.ConservationViolationError
		conflict     *engine.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body = errorBody{Kind: "validation", Message: err.Error(),
			Detail: map[string]interface{}{"field": validation.Field}}
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		body = errorBody{Kind: "not_found", Message: err.Error(),
			Detail: map[string]interface{}{"entity": notFound.Entity, "id": notFound.ID}}
	case errors.As(err, &authz):
		status = http.StatusForbidden
		body = errorBody{Kind: "authorization", Message: err.Error(),
			Detail: map[string]interface{}{"role": string(authz.Role)}}
	case errors.As(err, &imbalance):
		status = http.StatusUnprocessableEntity
		body = errorBody{Kind: "allocation_imbalance", Message: err.Error(),
			Detail: map[string]interface{}{"club_id": imbalance.ClubID, "sum": imbalance.Sum.String()}}
	case errors.As(err, &insufficient):
		status = http.StatusUnprocessableEntity
		body = errorBody{Kind: "insufficient_funds", Message: err.Error(),
			Detail: map[string]interface{}{
				"fund_id":   insufficient.FundID,
				"resource":  insufficient.Resource,
				"requested": insufficient.Requested.String(),
				"available": insufficient.Available.String(),
			}}
	case errors.As(err, &equity):
		status = http.StatusUnprocessableEntity
		body = errorBody{Kind: "insufficient_equity", Message: err.Error(),
			Detail: map[string]interface{}{
				"user_id":   equity.UserID,
				"requested": equity.Requested.String(),
				"equity":    equity.Equity.String(),
			}}
	case errors.As(err, &liquidity):
		status = http.StatusUnprocessableEntity
		body = errorBody{Kind: "withdrawal_liquidity", Message: err.Error(),
			Detail: map[string]interface{}{
				"club_id":      liquidity.ClubID,
				"requested":    liquidity.Requested.String(),
				"bank_balance": liquidity.BankBalance.String(),
			}}
	case errors.As(err, &conservation):
		status = http.StatusInternalServerError
		body = errorBody{Kind: "conservation_violation", Message: err.Error(),
			Detail: map[string]interface{}{"club_id": conservation.ClubID}}
	case errors.As(err, &conflict):
		status = http.StatusConflict
		body = errorBody{Kind: "concurrency_conflict", Message: err.Error(),
			Detail: map[string]interface{}{"club_id": conflict.ClubID}}
	}

	respondJSON(w, status, map[string]interface{}{"error": body})
}
