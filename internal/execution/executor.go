package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// OutcomeRecorder attaches outcomes to open ACE records when a position closes
type OutcomeRecorder interface {
	CloseEntries(ctx context.Context, broker contracts.Broker, symbol string, exitPrice decimal.Decimal, note string) (int, error)
}

// AccountCache drops a broker's cached account snapshot after its balance changed
type AccountCache interface {
	Invalidate(ctx context.Context, broker contracts.Broker) error
}

// Executor places approved orders through the broker registry
// ⭐ SSOT: 주문 제출은 여기서만. 재시도 없음 (재시도 정책은 호출자 책임)
type Executor struct {
	registry *Registry
	store    TradeStore
	outcomes OutcomeRecorder
	accounts AccountCache
	metrics  *metrics.Metrics
	logger   *logger.Logger
	dryRun   bool
	now      func() time.Time
}

// NewExecutor creates an executor
func NewExecutor(registry *Registry, store TradeStore, log *logger.Logger, dryRun bool) *Executor {
	return &Executor{
		registry: registry,
		store:    store,
		logger:   log.WithComponent("executor"),
		dryRun:   dryRun,
		now:      time.Now,
	}
}

// WithOutcomes sets the ACE outcome recorder used when a SELL closes a position
func (e *Executor) WithOutcomes(r OutcomeRecorder) *Executor {
	e.outcomes = r
	return e
}

// WithMetrics sets the metrics sink
func (e *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithAccountCache sets the account cache invalidated on every fill
func (e *Executor) WithAccountCache(c AccountCache) *Executor {
	e.accounts = c
	return e
}

// DryRun reports whether the executor is in dry-run mode
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Execute places one order in the executor's mode
func (e *Executor) Execute(ctx context.Context, req *contracts.OrderRequest) (*contracts.OrderResult, error) {
	return e.ExecuteWith(ctx, req, e.dryRun)
}

// ExecuteWith places one order. Dry run returns SKIPPED before any network call.
// Broker failures are FAILED results, not errors; errors mean invalid input or
// a fill that could not be persisted.
func (e *Executor) ExecuteWith(ctx context.Context, req *contracts.OrderRequest, dryRun bool) (*contracts.OrderResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if req.Type == "" {
		req.Type = contracts.OrderTypeMarket
	}

	log := e.logger.WithFields(map[string]interface{}{
		"broker":          req.Broker,
		"symbol":          req.Symbol,
		"side":            req.Side,
		"qty":             req.Qty.String(),
		"client_order_id": req.ClientOrderID,
	})

	if dryRun {
		result := &contracts.OrderResult{
			Status:        contracts.OrderSkipped,
			ExecutedPrice: req.Price,
			ExecutedQty:   req.Qty,
			Message:       "dry run",
		}
		log.Info("Dry run order skipped")
		e.metrics.RecordOrder(string(req.Broker), string(req.Side), string(result.Status))
		return result, nil
	}

	client, err := e.registry.Get(req.Broker)
	if err != nil {
		return nil, err
	}

	result, err := client.PlaceOrder(ctx, *req)
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty order result", contracts.ErrDataIntegrity)
	}
	if err != nil {
		log.WithError(err).Warn("Order failed")
		result = &contracts.OrderResult{Status: contracts.OrderFailed, Message: err.Error()}
		e.metrics.RecordOrder(string(req.Broker), string(req.Side), string(result.Status))
		return result, nil
	}
	e.metrics.RecordOrder(string(req.Broker), string(req.Side), string(result.Status))

	if !result.IsSuccess() {
		log.WithField("message", result.Message).Warn("Order rejected by broker")
		return result, nil
	}

	// 체결로 예수금/보유가 바뀜. 다음 사이징이 30초 묵은 잔고를 보지 않도록
	if e.accounts != nil {
		if err := e.accounts.Invalidate(ctx, req.Broker); err != nil {
			log.WithError(err).Warn("Failed to invalidate account cache")
		}
	}

	if result.ExecutedPrice.IsZero() {
		result.ExecutedPrice = req.Price
	}
	if result.ExecutedQty.IsZero() {
		result.ExecutedQty = req.Qty
	}

	trade := &contracts.Trade{
		ID:            uuid.NewString(),
		Broker:        req.Broker,
		Market:        req.Market,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           result.ExecutedQty,
		Price:         result.ExecutedPrice,
		OrderID:       result.OrderID,
		ClientOrderID: req.ClientOrderID,
		Reason:        req.Reason,
		ExecutedAt:    e.now(),
	}
	pos, err := e.store.RecordFill(ctx, trade)
	if err != nil {
		// 브로커는 체결했으므로 결과는 SUCCESS 유지. 대사(reconcile)가 포지션을 복구
		log.WithError(err).Error("Failed to persist fill")
		return result, fmt.Errorf("persist fill %s: %w", req.ClientOrderID, err)
	}

	log.WithFields(map[string]interface{}{
		"order_id": result.OrderID,
		"price":    result.ExecutedPrice.String(),
	}).Info("Order filled")

	if req.Side == contracts.OrderSideSell && !pos.Qty.IsPositive() && e.outcomes != nil {
		if _, err := e.outcomes.CloseEntries(ctx, req.Broker, req.Symbol, result.ExecutedPrice, req.Reason); err != nil {
			log.WithError(err).Warn("Failed to attach ACE outcome")
		}
	}

	return result, nil
}

func validateRequest(req *contracts.OrderRequest) error {
	var errs []error
	if req == nil {
		return fmt.Errorf("%w: nil order request", contracts.ErrInvalidInput)
	}
	if req.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if req.Side != contracts.OrderSideBuy && req.Side != contracts.OrderSideSell {
		errs = append(errs, fmt.Errorf("invalid side %q", req.Side))
	}
	if !req.Qty.IsPositive() {
		errs = append(errs, fmt.Errorf("qty must be positive, got %s", req.Qty))
	}
	if req.Type == contracts.OrderTypeLimit && !req.Price.IsPositive() {
		errs = append(errs, errors.New("limit order requires a price"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", contracts.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}
