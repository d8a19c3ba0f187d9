package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// GuardHandler exposes the shared trading guard to operators
// ⭐ SSOT: 운영자 수동 개입(enable/disable)은 CLI와 이 핸들러에서만
type GuardHandler struct {
	store  guard.Store
	events contracts.RiskEventLogger
	logger *logger.Logger
	now    func() time.Time
}

// NewGuardHandler creates a new guard handler. events may be nil.
func NewGuardHandler(store guard.Store, events contracts.RiskEventLogger, log *logger.Logger) *GuardHandler {
	return &GuardHandler{
		store:  store,
		events: events,
		logger: log,
		now:    time.Now,
	}
}

// GuardResponse is the guard state plus the derived block reason
type GuardResponse struct {
	*contracts.GuardState
	InCooldown  bool   `json:"in_cooldown"`
	BlockReason string `json:"block_reason,omitempty"`
}

// GuardRequest is the POST body
type GuardRequest struct {
	Action string `json:"action"` // enable | disable
	Reason string `json:"reason"`
}

// GetGuard returns the current guard state
// GET /api/guard
func (h *GuardHandler) GetGuard(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read guard")
		respondError(w, http.StatusInternalServerError, "Failed to read guard")
		return
	}
	respondJSON(w, http.StatusOK, h.response(state))
}

// UpdateGuard enables or disables trading
// POST /api/guard
func (h *GuardHandler) UpdateGuard(w http.ResponseWriter, r *http.Request) {
	var req GuardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := r.Context()
	var (
		state *contracts.GuardState
		err   error
	)
	switch req.Action {
	case "enable":
		state, err = h.store.Enable(ctx, h.now())
	case "disable":
		reason := req.Reason
		if reason == "" {
			reason = "manual disable"
		}
		state, err = h.store.Disable(ctx, reason)
	default:
		respondError(w, http.StatusBadRequest, "action must be enable or disable")
		return
	}

	if errors.Is(err, contracts.ErrGuardBlocked) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("action", req.Action).Error("Failed to update guard")
		respondError(w, http.StatusInternalServerError, "Failed to update guard")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"action": req.Action,
		"reason": req.Reason,
	}).Warn("Guard changed by operator")
	h.logOverride(ctx, req)

	respondJSON(w, http.StatusOK, h.response(state))
}

func (h *GuardHandler) response(state *contracts.GuardState) GuardResponse {
	now := h.now()
	return GuardResponse{
		GuardState:  state,
		InCooldown:  state.InCooldown(now),
		BlockReason: state.BlockReason(now),
	}
}

func (h *GuardHandler) logOverride(ctx context.Context, req GuardRequest) {
	if h.events == nil {
		return
	}
	err := h.events.LogRiskEvent(ctx, &contracts.RiskEvent{
		Type:     contracts.RiskEventGuardOverride,
		Severity: contracts.SeverityWarning,
		Message:  "guard " + req.Action + " via ops api",
		Details:  map[string]interface{}{"action": req.Action, "reason": req.Reason},
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to write guard override event")
	}
}
