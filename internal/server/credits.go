package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/signalx/chartlens/internal/ledger"
	"github.com/signalx/chartlens/internal/model"
)

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "Credits are not available", "no persistent store configured")
		return
	}

	acc, err := s.ledger.Account(r.Context(), uid)
	if errors.Is(err, ledger.ErrNotFound) {
		// First contact: the account is created with the initial grant.
		if err := s.ledger.Grant(r.Context(), uid, s.opts.InitialCredits); err == nil {
			acc, err = s.ledger.Account(r.Context(), uid)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load credits", "")
			return
		}
	} else if err != nil {
		s.logger.Error().Err(err).Str("user_id", uid).Msg("failed to load account")
		writeError(w, http.StatusInternalServerError, "Failed to load credits", "")
		return
	}

	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "Credits are not available", "no persistent store configured")
		return
	}

	txs, err := s.ledger.Transactions(r.Context(), uid, 100)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", uid).Msg("failed to list transactions")
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

type checkoutRequest struct {
	Credits int `json:"credits"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required", "")
		return
	}
	if s.payments == nil || !s.payments.Configured() {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured", "")
		return
	}

	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.Credits < 1 {
		writeError(w, http.StatusBadRequest, "credits must be at least 1", "")
		return
	}

	sessionID, url, err := s.payments.CreateCheckoutSession(uid, body.Credits)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", uid).Msg("failed to create checkout session")
		writeError(w, http.StatusBadGateway, "Failed to create checkout session", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"url":       url,
	})
}

type adminCreditsRequest struct {
	UserID      string `json:"userId"`
	Amount      int    `json:"amount"`
	Description string `json:"description"`
}

// handleAdminCredits applies an operator balance adjustment. The admin token
// is a deployment secret checked against a dedicated header; operator
// identity management itself lives outside this service.
func (s *Server) handleAdminCredits(w http.ResponseWriter, r *http.Request) {
	if s.opts.AdminToken == "" || r.Header.Get("X-Admin-Token") != s.opts.AdminToken {
		writeError(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "Credits are not available", "no persistent store configured")
		return
	}

	var body adminCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.UserID == "" || body.Amount == 0 {
		writeError(w, http.StatusBadRequest, "userId and a non-zero amount are required", "")
		return
	}

	desc := body.Description
	if desc == "" {
		desc = "Admin adjustment"
	}

	if err := s.ledger.Grant(r.Context(), body.UserID, 0); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to adjust credits", "")
		return
	}
	if err := s.ledger.AdminAdjust(r.Context(), body.UserID, body.Amount, desc); err != nil {
		s.logger.Error().Err(err).Str("user_id", body.UserID).Msg("admin adjustment failed")
		writeError(w, http.StatusInternalServerError, "Failed to adjust credits", "")
		return
	}

	acc, err := s.ledger.Account(r.Context(), body.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load updated balance", "")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// handleStripeWebhook credits purchased packs after checkout completes.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured", "")
		return
	}
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "Credits are not available", "no persistent store configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read webhook payload", "")
		return
	}

	event, err := s.payments.VerifyWebhookSignature(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn().Err(err).Msg("webhook signature verification failed")
		writeError(w, http.StatusBadRequest, "Invalid webhook signature", "")
		return
	}

	uid, credits, ok, err := s.payments.ProcessCreditPurchase(event)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to process purchase event")
		writeError(w, http.StatusBadRequest, "Invalid purchase event", "")
		return
	}
	if !ok {
		// Not a purchase completion; acknowledge and move on.
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := s.ledger.Grant(r.Context(), uid, 0); err == nil {
		err = s.ledger.Credit(r.Context(), uid, credits, model.TxPurchase, "Credit pack purchase")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", uid).Int("credits", credits).Msg("failed to credit purchase")
		writeError(w, http.StatusInternalServerError, "Failed to apply purchase", "")
		return
	}

	s.logger.Info().Str("user_id", uid).Int("credits", credits).Msg("credited purchased pack")
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
