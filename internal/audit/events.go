package audit

import (
	"context"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// RiskEventStore appends risk events
type RiskEventStore interface {
	InsertRiskEvent(ctx context.Context, event *contracts.RiskEvent) error
}

// EventLogger writes risk events to the store and mirrors them to the log.
// Implements contracts.RiskEventLogger.
type EventLogger struct {
	store  RiskEventStore
	logger *logger.Logger
}

// NewEventLogger creates a risk event logger
func NewEventLogger(store RiskEventStore, log *logger.Logger) *EventLogger {
	return &EventLogger{store: store, logger: log.WithComponent("risk_events")}
}

// LogRiskEvent persists the event. A store failure is returned after the event is logged.
func (l *EventLogger) LogRiskEvent(ctx context.Context, event *contracts.RiskEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	log := l.logger.WithFields(map[string]interface{}{
		"event_type": event.Type,
		"severity":   event.Severity,
		"market":     event.Market,
		"broker":     event.Broker,
		"symbol":     event.Symbol,
	})
	switch event.Severity {
	case contracts.SeverityCritical:
		log.Error(event.Message)
	case contracts.SeverityWarning:
		log.Warn(event.Message)
	default:
		log.Info(event.Message)
	}

	return l.store.InsertRiskEvent(ctx, event)
}
