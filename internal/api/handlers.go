/**
 * @description
 * This file contains the HTTP handlers for the escrow-service's API endpoints.
 * Handlers parse incoming requests, build the caller's Proof from the
 * authenticated context, call the escrow core, and map the core's error
 * taxonomy onto HTTP status codes. They are the bridge between the web layer
 * and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Core logic, models, errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/swiftremit/escrow-service/internal/app"
	"github.com/swiftremit/escrow-service/internal/domain"
	"github.com/swiftremit/escrow-service/internal/store"
)

// RateLimiter is consumed before remittance creation; nil disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// EscrowHandlers holds the escrow core and the transport-level knobs the
// handlers need.
type EscrowHandlers struct {
	service          *app.Service
	rateLimiter      RateLimiter
	createRatePerMin int
}

// NewEscrowHandlers creates a new instance of EscrowHandlers.
func NewEscrowHandlers(service *app.Service) *EscrowHandlers {
	return &EscrowHandlers{service: service}
}

// SetRateLimiter installs an optional per-sender limiter on remittance creation.
func (h *EscrowHandlers) SetRateLimiter(limiter RateLimiter, perMinute int) {
	h.rateLimiter = limiter
	h.createRatePerMin = perMinute
}

type createRemittanceResponse struct {
	RemittanceID int64  `json:"remittance_id"`
	Status       string `json:"status"`
	Message      string `json:"message"`
}

type withdrawFeesResponse struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Message   string `json:"message"`
}

type agentStatusResponse struct {
	Agent      string `json:"agent"`
	Registered bool   `json:"registered"`
}

type feeResponse struct {
	FeeBps int64 `json:"fee_bps"`
}

type accumulatedFeesResponse struct {
	AccumulatedFees int64 `json:"accumulated_fees"`
}

// InitializeHandler performs the one-time platform configuration.
func (h *EscrowHandlers) InitializeHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=initialize outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.Initialize(r.Context(), req); err != nil {
		h.writeCoreError(w, "initialize", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"message": "Platform initialized"})
}

// RegisterAgentHandler adds an identity to the payout agent registry.
func (h *EscrowHandlers) RegisterAgentHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	var req domain.RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.RegisterAgent(r.Context(), proof, req.Agent); err != nil {
		h.writeCoreError(w, "register_agent", err)
		return
	}

	h.writeJSON(w, http.StatusOK, agentStatusResponse{Agent: req.Agent, Registered: true})
}

// RemoveAgentHandler removes an identity from the payout agent registry.
func (h *EscrowHandlers) RemoveAgentHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	agent := chi.URLParam(r, "address")
	if err := h.service.RemoveAgent(r.Context(), proof, agent); err != nil {
		h.writeCoreError(w, "remove_agent", err)
		return
	}

	h.writeJSON(w, http.StatusOK, agentStatusResponse{Agent: agent, Registered: false})
}

// AgentStatusHandler reports whether an identity is a registered agent.
func (h *EscrowHandlers) AgentStatusHandler(w http.ResponseWriter, r *http.Request) {
	agent := chi.URLParam(r, "address")
	registered, err := h.service.IsAgentRegistered(r.Context(), agent)
	if err != nil {
		h.writeCoreError(w, "agent_status", err)
		return
	}

	h.writeJSON(w, http.StatusOK, agentStatusResponse{Agent: agent, Registered: registered})
}

// UpdateFeeHandler replaces the platform fee rate.
func (h *EscrowHandlers) UpdateFeeHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	var req domain.UpdateFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.UpdateFee(r.Context(), proof, req.FeeBps); err != nil {
		h.writeCoreError(w, "update_fee", err)
		return
	}

	h.writeJSON(w, http.StatusOK, feeResponse{FeeBps: req.FeeBps})
}

// GetFeeHandler returns the current platform fee rate.
func (h *EscrowHandlers) GetFeeHandler(w http.ResponseWriter, r *http.Request) {
	feeBps, err := h.service.GetPlatformFeeBps(r.Context())
	if err != nil {
		h.writeCoreError(w, "get_fee", err)
		return
	}

	h.writeJSON(w, http.StatusOK, feeResponse{FeeBps: feeBps})
}

// UpdateDailyLimitHandler replaces the per-sender daily send limit.
func (h *EscrowHandlers) UpdateDailyLimitHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	var req domain.UpdateDailyLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.SetDailyLimit(r.Context(), proof, req.DailyLimit); err != nil {
		h.writeCoreError(w, "update_daily_limit", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]int64{"daily_limit": req.DailyLimit})
}

// CreateRemittanceHandler escrows a sender's principal and records a new
// pending remittance.
func (h *EscrowHandlers) CreateRemittanceHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	var req domain.CreateRemittanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_remittance outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if h.rateLimiter != nil && h.createRatePerMin > 0 {
		count, retryAfter, err := h.rateLimiter.ConsumeRateLimit(r.Context(), "create_remittance", proof.Address, h.createRatePerMin, time.Minute)
		if err != nil {
			log.Printf("level=warn component=api endpoint=create_remittance msg=\"rate limiter unavailable; allowing request\" err=%v", err)
		} else if count > h.createRatePerMin {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeError(w, http.StatusTooManyRequests, "Too many remittance requests. Please wait and try again.")
			return
		}
	}

	id, err := h.service.CreateRemittance(r.Context(), proof, req)
	if err != nil {
		h.writeCoreError(w, "create_remittance", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, createRemittanceResponse{
		RemittanceID: id,
		Status:       string(domain.StatusPending),
		Message:      "Remittance created and principal escrowed",
	})
}

// ConfirmPayoutHandler settles a pending remittance after fiat disbursement.
func (h *EscrowHandlers) ConfirmPayoutHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	id, ok := h.remittanceID(w, r)
	if !ok {
		return
	}

	if err := h.service.ConfirmPayout(r.Context(), proof, id); err != nil {
		h.writeCoreError(w, "confirm_payout", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCompleted)})
}

// CancelRemittanceHandler refunds a pending remittance in full to its sender.
func (h *EscrowHandlers) CancelRemittanceHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	id, ok := h.remittanceID(w, r)
	if !ok {
		return
	}

	if err := h.service.CancelRemittance(r.Context(), proof, id); err != nil {
		h.writeCoreError(w, "cancel_remittance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusCancelled)})
}

// GetRemittanceHandler returns the full remittance record for an id.
func (h *EscrowHandlers) GetRemittanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.remittanceID(w, r)
	if !ok {
		return
	}

	rem, err := h.service.GetRemittance(r.Context(), id)
	if err != nil {
		h.writeCoreError(w, "get_remittance", err)
		return
	}

	h.writeJSON(w, http.StatusOK, rem)
}

// GetAccumulatedFeesHandler returns the current fee accumulator value.
func (h *EscrowHandlers) GetAccumulatedFeesHandler(w http.ResponseWriter, r *http.Request) {
	fees, err := h.service.GetAccumulatedFees(r.Context())
	if err != nil {
		h.writeCoreError(w, "get_accumulated_fees", err)
		return
	}

	h.writeJSON(w, http.StatusOK, accumulatedFeesResponse{AccumulatedFees: fees})
}

// WithdrawFeesHandler sweeps accumulated platform fees to a recipient.
func (h *EscrowHandlers) WithdrawFeesHandler(w http.ResponseWriter, r *http.Request) {
	proof, ok := h.callerProof(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawFeesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	amount, err := h.service.WithdrawFees(r.Context(), proof, req.Recipient)
	if err != nil {
		h.writeCoreError(w, "withdraw_fees", err)
		return
	}

	message := "Fees withdrawn"
	if amount == 0 {
		message = "No fees to withdraw"
	}
	h.writeJSON(w, http.StatusOK, withdrawFeesResponse{Recipient: req.Recipient, Amount: amount, Message: message})
}

// CustodySnapshotHandler returns the reconciliation view of the custody pool.
func (h *EscrowHandlers) CustodySnapshotHandler(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.service.CustodySnapshot(r.Context())
	if err != nil {
		h.writeCoreError(w, "custody_snapshot", err)
		return
	}

	h.writeJSON(w, http.StatusOK, snapshot)
}

// callerProof builds the core's Proof from the authenticated request context.
func (h *EscrowHandlers) callerProof(w http.ResponseWriter, r *http.Request) (app.Proof, bool) {
	address, ok := GetCallerAddress(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get caller address from context")
		return app.Proof{}, false
	}
	return app.Proof{Address: address}, true
}

// remittanceID parses the {id} URL parameter.
func (h *EscrowHandlers) remittanceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid remittance id")
		return 0, false
	}
	return id, true
}

// writeCoreError maps the escrow core's error taxonomy onto HTTP statuses.
func (h *EscrowHandlers) writeCoreError(w http.ResponseWriter, endpoint string, err error) {
	log.Printf("level=warn component=api endpoint=%s outcome=failed err=%v", endpoint, err)

	switch {
	case errors.Is(err, app.ErrAlreadyInitialized),
		errors.Is(err, app.ErrNotInitialized),
		errors.Is(err, app.ErrInvalidStatus):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidConfiguration),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrOverflow):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAgentNotRegistered):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrRemittanceNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrDailySendLimitExceeded):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrTransferFailed):
		h.writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *EscrowHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *EscrowHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
