package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/pkg/backoff"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// AccountSource resolves the account client of a broker
type AccountSource interface {
	Account(broker contracts.Broker) (contracts.AccountClient, error)
}

// PositionBook is the local position table
type PositionBook interface {
	ListPositions(ctx context.Context, broker contracts.Broker) ([]*contracts.Position, error)
	ReplacePositions(ctx context.Context, broker contracts.Broker, positions []*contracts.Position) error
}

// Mismatch is one symbol whose local quantity differs from the broker's
type Mismatch struct {
	Symbol    string `json:"symbol"`
	LocalQty  string `json:"local_qty"`
	BrokerQty string `json:"broker_qty"`
}

// ReconcileReport is the result of one reconciliation
type ReconcileReport struct {
	Broker     contracts.Broker `json:"broker"`
	Checked    int              `json:"checked"`
	Mismatches []Mismatch       `json:"mismatches"`
	Replaced   bool             `json:"replaced"`
}

// Reconciler makes the broker the source of truth for positions
// ⭐ SSOT: 로컬 포지션은 추정치. 브로커 잔고가 진실
type Reconciler struct {
	accounts    AccountSource
	book        PositionBook
	events      contracts.RiskEventLogger
	metrics     *metrics.Metrics
	logger      *logger.Logger
	maxAttempts int
	sleep       backoff.Sleeper
}

// NewReconciler creates a reconciler
func NewReconciler(accounts AccountSource, book PositionBook, events contracts.RiskEventLogger, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		accounts:    accounts,
		book:        book,
		events:      events,
		metrics:     m,
		logger:      log.WithComponent("reconcile"),
		maxAttempts: 3,
		sleep:       backoff.Sleep,
	}
}

// WithSleeper replaces the backoff sleeper (tests)
func (r *Reconciler) WithSleeper(sleep backoff.Sleeper) *Reconciler {
	r.sleep = sleep
	return r
}

// Reconcile compares broker holdings with local positions and, on any difference,
// replaces the local book with the broker's view.
func (r *Reconciler) Reconcile(ctx context.Context, broker contracts.Broker) (*ReconcileReport, error) {
	snap, err := r.snapshot(ctx, broker)
	if err != nil {
		return nil, err
	}
	local, err := r.book.ListPositions(ctx, broker)
	if err != nil {
		return nil, fmt.Errorf("%w: load positions: %v", contracts.ErrDataIntegrity, err)
	}

	remote := make(map[string]*contracts.Position, len(snap.Holdings))
	for _, h := range snap.Holdings {
		if contracts.IsQuoteCurrency(h.Symbol) || !h.Qty.IsPositive() {
			continue
		}
		remote[h.Symbol] = &contracts.Position{
			Broker:    broker,
			Market:    h.Market,
			Symbol:    h.Symbol,
			Qty:       h.Qty,
			AvgPrice:  h.AvgPrice,
			UpdatedAt: time.Now(),
		}
	}
	mine := make(map[string]*contracts.Position, len(local))
	for _, p := range local {
		if contracts.IsQuoteCurrency(p.Symbol) {
			continue
		}
		mine[p.Symbol] = p
	}

	report := &ReconcileReport{Broker: broker}
	symbols := make(map[string]struct{}, len(remote)+len(mine))
	for s := range remote {
		symbols[s] = struct{}{}
	}
	for s := range mine {
		symbols[s] = struct{}{}
	}
	for s := range symbols {
		report.Checked++
		localQty, brokerQty := "0", "0"
		lp, rp := mine[s], remote[s]
		if lp != nil {
			localQty = lp.Qty.String()
		}
		if rp != nil {
			brokerQty = rp.Qty.String()
		}
		if lp != nil && rp != nil && lp.Qty.Equal(rp.Qty) {
			continue
		}
		report.Mismatches = append(report.Mismatches, Mismatch{Symbol: s, LocalQty: localQty, BrokerQty: brokerQty})
	}
	sort.Slice(report.Mismatches, func(i, j int) bool {
		return report.Mismatches[i].Symbol < report.Mismatches[j].Symbol
	})

	if len(report.Mismatches) == 0 {
		r.logger.WithFields(map[string]interface{}{
			"broker":  broker,
			"checked": report.Checked,
		}).Debug("Positions reconciled")
		return report, nil
	}

	for _, m := range report.Mismatches {
		r.metrics.RecordReconcileMismatch(string(broker))
		r.logger.WithFields(map[string]interface{}{
			"broker":     broker,
			"symbol":     m.Symbol,
			"local_qty":  m.LocalQty,
			"broker_qty": m.BrokerQty,
		}).Warn("Position mismatch")
		if r.events != nil {
			err := r.events.LogRiskEvent(ctx, &contracts.RiskEvent{
				Type:     contracts.RiskEventReconcileMismatch,
				Severity: contracts.SeverityWarning,
				Broker:   broker,
				Symbol:   m.Symbol,
				Message:  fmt.Sprintf("local %s != broker %s", m.LocalQty, m.BrokerQty),
				Details: map[string]interface{}{
					"local_qty":  m.LocalQty,
					"broker_qty": m.BrokerQty,
				},
			})
			if err != nil {
				r.logger.WithError(err).Warn("Failed to write reconcile event")
			}
		}
	}

	positions := make([]*contracts.Position, 0, len(remote))
	for _, p := range remote {
		positions = append(positions, p)
	}
	if err := r.book.ReplacePositions(ctx, broker, positions); err != nil {
		return report, fmt.Errorf("replace positions: %w", err)
	}
	report.Replaced = true
	return report, nil
}

// snapshot fetches broker holdings, retrying transient failures with backoff
func (r *Reconciler) snapshot(ctx context.Context, broker contracts.Broker) (*contracts.AccountSnapshot, error) {
	client, err := r.accounts.Account(broker)
	if err != nil {
		return nil, err
	}

	b := backoff.NewDefault()
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		snap, err := client.GetAccount(ctx)
		if err == nil && snap != nil {
			return snap, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: empty account snapshot", contracts.ErrDataIntegrity)
		}
		lastErr = err
		if !errors.Is(err, contracts.ErrTransientBroker) || attempt == r.maxAttempts {
			break
		}
		r.logger.WithError(err).WithField("attempt", attempt).Warn("Account snapshot failed, retrying")
		if serr := r.sleep(ctx, b.Next()); serr != nil {
			return nil, serr
		}
	}
	return nil, fmt.Errorf("%w: account %s: %v", contracts.ErrDataIntegrity, broker, lastErr)
}
