package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Operational endpoints
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Ledger commands
	api.HandleFunc("/clubs/{clubID}/transactions", handler.RecordTransaction).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/allocations", handler.Allocate).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/transfers/brokerage-to-bank", handler.BrokerageToBank).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/transfers/interfund-cash", handler.InterfundCash).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/transfers/interfund-position", handler.InterfundPosition).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/splits", handler.SaveSplits).Methods("PUT")
	api.HandleFunc("/clubs/{clubID}/snapshots", handler.Recalculate).Methods("POST")

	// Member commands
	api.HandleFunc("/clubs/{clubID}/members/{userID}/deposits", handler.Deposit).Methods("POST")
	api.HandleFunc("/clubs/{clubID}/members/{userID}/withdrawals", handler.Withdrawal).Methods("POST")

	// Queries
	api.HandleFunc("/clubs/{clubID}/valuation", handler.GetValuation).Methods("GET")
	api.HandleFunc("/clubs/{clubID}/transactions", handler.ListTransactions).Methods("GET")
	api.HandleFunc("/clubs/{clubID}/members/{userID}/equity", handler.GetMemberEquity).Methods("GET")
	api.HandleFunc("/funds/{fundID}", handler.GetFundDetail).Methods("GET")

	return r
}
