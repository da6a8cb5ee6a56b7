// Package server exposes the analysis gateway over HTTP. Authentication is an
// external collaborator: the caller identity arrives as an opaque X-User-ID
// header set by the fronting proxy, and requests without it run anonymously.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/signalx/chartlens/internal/gateway"
	"github.com/signalx/chartlens/internal/ledger"
	"github.com/signalx/chartlens/internal/payment"
)

const userIDHeader = "X-User-ID"

// Options configures the HTTP server.
type Options struct {
	MaxBodyBytes   int64
	InitialCredits int
	AdminToken     string
}

// Server routes caller requests into the gateway, ledger and payment services.
type Server struct {
	svc      *gateway.Service
	ledger   ledger.Ledger
	payments *payment.StripeService
	opts     Options
	logger   zerolog.Logger
}

// New creates the HTTP server. Ledger and payments may be nil; the matching
// routes then answer 503.
func New(svc *gateway.Service, led ledger.Ledger, payments *payment.StripeService, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	return &Server{
		svc:      svc,
		ledger:   led,
		payments: payments,
		opts:     opts,
		logger:   log.With().Str("component", "http_server").Logger(),
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/analyze-chart", s.handleAnalyzeChart).Methods(http.MethodPost)
	r.HandleFunc("/api/analysis/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/analysis/{id}", s.handleGetAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/api/analysis/{id}", s.handleDeleteAnalysis).Methods(http.MethodDelete)
	r.HandleFunc("/api/credits", s.handleCredits).Methods(http.MethodGet)
	r.HandleFunc("/api/credits/transactions", s.handleTransactions).Methods(http.MethodGet)
	r.HandleFunc("/api/credits/checkout", s.handleCheckout).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/credits", s.handleAdminCredits).Methods(http.MethodPost)
	r.HandleFunc("/api/webhooks/stripe", s.handleStripeWebhook).Methods(http.MethodPost)

	r.Use(s.logRequests)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"in_flight": s.svc.InFlight(),
	})
}

// userID extracts the opaque caller identity; empty means anonymous.
func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}
