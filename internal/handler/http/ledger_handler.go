package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/scheduler"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/oddsmath"
)

// LedgerHandler handles HTTP requests for accounts, bets and settlement
type LedgerHandler struct {
	accounts        *service.AccountService
	statistics      *service.StatisticsService
	scheduler       *scheduler.Scheduler
	kellyMultiplier float64
	logger          zerolog.Logger
}

// NewLedgerHandler creates a new ledger HTTP handler
func NewLedgerHandler(
	accounts *service.AccountService,
	statistics *service.StatisticsService,
	sched *scheduler.Scheduler,
	kellyMultiplier float64,
	logger zerolog.Logger,
) *LedgerHandler {
	return &LedgerHandler{
		accounts:        accounts,
		statistics:      statistics,
		scheduler:       sched,
		kellyMultiplier: kellyMultiplier,
		logger:          logger.With().Str("component", "ledger_handler").Logger(),
	}
}

// RegisterRoutes registers the API routes under /api/v1
func (h *LedgerHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// Accounts
		r.Post("/accounts", h.handleCreateAccount)
		r.Get("/accounts/{id}/bankroll", h.handleGetBankroll)
		r.Get("/accounts/{id}/statistics", h.handleGetStatistics)
		r.Get("/accounts/{id}/statistics/audit", h.handleAuditStatistics)
		r.Get("/accounts/{id}/audit", h.handleAuditReconcile)
		r.Post("/accounts/{id}/bets", h.handlePlaceBet)

		// Bets
		r.Get("/bets/{id}", h.handleGetBet)
		r.Post("/bets/{id}/settle", h.handleSettle)

		// Stateless calculator
		r.Post("/edge", h.handleEstimateEdge)

		// Scheduler quarantine
		r.Get("/scheduler/quarantine", h.handleListQuarantine)
		r.Delete("/scheduler/quarantine/{id}", h.handleReleaseQuarantine)
	})
}

// handleCreateAccount handles POST /api/v1/accounts
func (h *LedgerHandler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, account)
}

// handleGetBankroll handles GET /api/v1/accounts/{id}/bankroll
func (h *LedgerHandler) handleGetBankroll(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	status, err := h.accounts.GetBankrollStatus(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, status)
}

// handleGetStatistics handles GET /api/v1/accounts/{id}/statistics?league=&bet_type=&from=&to=
func (h *LedgerHandler) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := models.StatisticsFilter{
		League:  query.Get("league"),
		BetType: strings.ToLower(query.Get("bet_type")),
	}

	var err error
	if filter.From, err = parseTime(query.Get("from")); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	if filter.To, err = parseTime(query.Get("to")); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	snap, err := h.statistics.GetStatistics(r.Context(), id, filter)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, snap)
}

// handleAuditStatistics handles GET /api/v1/accounts/{id}/statistics/audit
func (h *LedgerHandler) handleAuditStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	audit, err := h.statistics.AuditStatistics(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	status := http.StatusOK
	if audit.Drifted {
		status = http.StatusConflict
	}
	h.jsonResponse(w, status, audit)
}

// handleAuditReconcile handles GET /api/v1/accounts/{id}/audit
func (h *LedgerHandler) handleAuditReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	report, err := h.accounts.AuditReconcile(r.Context(), id)
	if errors.Is(err, models.ErrReconciliationMismatch) && report != nil {
		h.jsonResponse(w, http.StatusConflict, report)
		return
	}
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, report)
}

// handlePlaceBet handles POST /api/v1/accounts/{id}/bets
func (h *LedgerHandler) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req models.PlaceBetRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.AccountID = id

	bet, err := h.accounts.PlaceBet(r.Context(), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusCreated, bet)
}

// handleGetBet handles GET /api/v1/bets/{id}
func (h *LedgerHandler) handleGetBet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	bet, err := h.accounts.GetBet(r.Context(), id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, bet)
}

// handleSettle handles POST /api/v1/bets/{id}/settle
func (h *LedgerHandler) handleSettle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req models.SettlementRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.BetID = id
	req.Source = models.SourceUser

	result, err := h.scheduler.SettleNow(r.Context(), req)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, result)
}

// EdgeRequest is the input of the stateless edge calculator
type EdgeRequest struct {
	Probability     float64  `json:"probability"`
	Price           int      `json:"price"`
	KellyMultiplier *float64 `json:"kelly_multiplier,omitempty"`
}

// handleEstimateEdge handles POST /api/v1/edge
func (h *LedgerHandler) handleEstimateEdge(w http.ResponseWriter, r *http.Request) {
	var req EdgeRequest
	if !h.decode(w, r, &req) {
		return
	}

	multiplier := h.kellyMultiplier
	if req.KellyMultiplier != nil {
		multiplier = *req.KellyMultiplier
	}

	estimate, err := oddsmath.EstimateEdge(req.Probability, req.Price, multiplier)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, estimate)
}

// handleListQuarantine handles GET /api/v1/scheduler/quarantine
func (h *LedgerHandler) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	entries := h.scheduler.Quarantined()
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// handleReleaseQuarantine handles DELETE /api/v1/scheduler/quarantine/{id}
func (h *LedgerHandler) handleReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.scheduler.Release(id) {
		h.errorResponse(w, http.StatusNotFound, "bet is not quarantined")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// parseTime accepts RFC 3339 timestamps or plain dates
func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("expected RFC 3339 or YYYY-MM-DD, got %q", v)
}

// serviceError maps the settlement error taxonomy onto HTTP statuses
func (h *LedgerHandler) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrAlreadySettled):
		h.errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidBet):
		h.errorResponse(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrInconsistentOutcome), errors.Is(err, models.ErrInvalidRequest):
		h.errorResponse(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrContention):
		w.Header().Set("Retry-After", "1")
		h.errorResponse(w, http.StatusServiceUnavailable, "ledger busy, try again")
	case errors.Is(err, models.ErrReconciliationMismatch):
		h.errorResponse(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		h.errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

// jsonResponse writes a JSON response
func (h *LedgerHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes a JSON error response
func (h *LedgerHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
