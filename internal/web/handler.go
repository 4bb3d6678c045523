// Package web exposes the vault custody operations over HTTP JSON and
// verifies the signed access grants that authenticate callers.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/heirloom/internal/vault"
	"github.com/louisbranch/heirloom/internal/vault/service"
	"github.com/louisbranch/heirloom/internal/vault/storage"
)

const defaultEventsLimit = 100

type handler struct {
	svc    *service.Service
	grants GrantConfig
}

// NewHandler creates the HTTP handler for the vault API.
func NewHandler(svc *service.Service, grants GrantConfig) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("vault service is required")
	}
	h := &handler{svc: svc, grants: grants}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/vault", h.handleGetVault)
	mux.HandleFunc("GET /v1/vault/events", h.handleListEvents)
	mux.HandleFunc("POST /v1/vault/deposit", h.handleDeposit)
	mux.HandleFunc("POST /v1/vault/receive", h.handleReceive)
	mux.HandleFunc("POST /v1/vault/withdraw", h.handleWithdraw)
	mux.HandleFunc("POST /v1/vault/claim", h.handleClaim)

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux, nil
}

// vaultResponse is the JSON view of the vault record. Balance is a
// decimal string so unsigned 64-bit values survive JSON number limits.
type vaultResponse struct {
	ID             string    `json:"id"`
	Owner          string    `json:"owner"`
	Heir           string    `json:"heir"`
	LastActivity   time.Time `json:"last_activity"`
	Balance        string    `json:"balance"`
	ElapsedSeconds int64     `json:"inactivity_elapsed_seconds"`
	PeriodSeconds  int64     `json:"inactivity_period_seconds"`
}

func (h *handler) vaultJSON(v vault.Vault) vaultResponse {
	now := time.Now
	if h.grants.Now != nil {
		now = h.grants.Now
	}
	return vaultResponse{
		ID:             v.ID,
		Owner:          v.Owner.String(),
		Heir:           v.Heir.String(),
		LastActivity:   v.LastActivity,
		Balance:        strconv.FormatUint(v.Balance, 10),
		ElapsedSeconds: int64(v.Elapsed(now()) / time.Second),
		PeriodSeconds:  int64(vault.InactivityPeriod / time.Second),
	}
}

type eventResponse struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	ActorID   string          `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type claimRequest struct {
	NewHeir string `json:"new_heir"`
}

// authorize verifies the bearer grant and returns the acting principal.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) (vault.Principal, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "bearer grant is required")
		return vault.Null, false
	}
	claims, err := ValidateGrant(token, h.grants)
	if err != nil {
		switch {
		case errors.Is(err, ErrGrantExpired):
			writeError(w, http.StatusUnauthorized, "grant is expired")
		case errors.Is(err, ErrGrantInvalid):
			writeError(w, http.StatusUnauthorized, "grant is invalid")
		default:
			writeError(w, http.StatusInternalServerError, "grant verification failed")
		}
		return vault.Null, false
	}
	return claims.Subject, true
}

func (h *handler) handleGetVault(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	v, err := h.svc.Vault(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.vaultJSON(v))
}

func (h *handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	afterSeq := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("after_seq")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_seq must be a non-negative integer")
			return
		}
		afterSeq = parsed
	}
	limit := defaultEventsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.svc.Events(r.Context(), afterSeq, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResponse{
			Seq:       evt.Seq,
			Timestamp: evt.Timestamp,
			Type:      string(evt.Type),
			ActorID:   evt.ActorID,
			Payload:   json.RawMessage(evt.PayloadJSON),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Deposit(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.vaultJSON(v))
}

func (h *handler) handleReceive(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	v, err := h.svc.ReceiveFunds(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.vaultJSON(v))
}

func (h *handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Withdraw(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.vaultJSON(v))
}

func (h *handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var payload claimRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	newHeir := vault.Principal(strings.TrimSpace(payload.NewHeir))
	v, err := h.svc.ClaimOwnership(r.Context(), caller, newHeir)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.vaultJSON(v))
}

// decodeAmount reads the request body amount. Amounts travel as decimal
// strings for the same reason balances do.
func decodeAmount(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	var payload amountRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return 0, false
	}
	raw := strings.TrimSpace(payload.Amount)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return 0, false
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a non-negative integer")
		return 0, false
	}
	return amount, true
}

// writeDomainError maps custody errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var notElapsed *vault.InactivityNotElapsedError
	switch {
	case errors.As(err, &notElapsed):
		writeJSON(w, http.StatusPreconditionFailed, map[string]any{
			"error":                      "inactivity period not elapsed",
			"inactivity_elapsed_seconds": int64(notElapsed.Elapsed / time.Second),
			"inactivity_period_seconds":  int64(vault.InactivityPeriod / time.Second),
		})
	case errors.Is(err, vault.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "caller is not authorized")
	case errors.Is(err, vault.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, "withdrawal exceeds balance")
	case errors.Is(err, vault.ErrInvalidHeir):
		writeError(w, http.StatusBadRequest, "heir principal is required")
	case errors.Is(err, vault.ErrSelfInheritance):
		writeError(w, http.StatusBadRequest, "heir must differ from the acting principal")
	case errors.Is(err, vault.ErrBalanceOverflow):
		writeError(w, http.StatusBadRequest, "deposit overflows balance")
	case errors.Is(err, vault.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, "transfer failed")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "vault not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes JSON responses with a consistent content type.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
