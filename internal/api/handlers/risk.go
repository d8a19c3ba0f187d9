package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-trader/internal/breaker"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// RiskEventReader lists recent risk events
type RiskEventReader interface {
	RecentRiskEvents(ctx context.Context, limit int) ([]*contracts.RiskEvent, error)
}

// BreakerChecker runs a circuit breaker check and re-baselines its drawdown
type BreakerChecker interface {
	Check(ctx context.Context, broker contracts.Broker) (*breaker.Status, error)
	ResetHighWater(ctx context.Context, broker contracts.Broker, by string) error
}

// RiskHandler exposes risk events and on-demand breaker checks
type RiskHandler struct {
	events  RiskEventReader
	breaker BreakerChecker
	logger  *logger.Logger
}

// NewRiskHandler creates a new risk handler
func NewRiskHandler(events RiskEventReader, b BreakerChecker, log *logger.Logger) *RiskHandler {
	return &RiskHandler{events: events, breaker: b, logger: log}
}

// GetEvents returns the newest risk events
// GET /api/risk/events?limit=50
func (h *RiskHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.events.RecentRiskEvents(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read risk events")
		respondError(w, http.StatusInternalServerError, "Failed to read risk events")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// CheckBreaker runs the circuit breaker for one broker now. A breach trips it.
// POST /api/breaker/{broker}/check
func (h *RiskHandler) CheckBreaker(w http.ResponseWriter, r *http.Request) {
	broker, ok := contracts.ParseBroker(mux.Vars(r)["broker"])
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown broker")
		return
	}

	status, err := h.breaker.Check(r.Context(), broker)
	if status == nil {
		code := http.StatusInternalServerError
		if errors.Is(err, contracts.ErrDataIntegrity) {
			code = http.StatusBadGateway
		}
		h.logger.WithError(err).WithField("broker", broker).Error("Breaker check failed")
		respondError(w, code, err.Error())
		return
	}

	resp := map[string]interface{}{"status": status}
	if err != nil {
		resp["action_errors"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// ResetHighWater drops the broker's running equity peak. The next check starts a new baseline.
// POST /api/breaker/{broker}/reset-high-water
func (h *RiskHandler) ResetHighWater(w http.ResponseWriter, r *http.Request) {
	broker, ok := contracts.ParseBroker(mux.Vars(r)["broker"])
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown broker")
		return
	}

	if err := h.breaker.ResetHighWater(r.Context(), broker, "api"); err != nil {
		h.logger.WithError(err).WithField("broker", broker).Error("High-water reset failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"broker": broker,
		"reset":  true,
	})
}
