package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/redis"
)

// AccountService answers account-size and position-value questions.
// Implements contracts.AccountProvider and contracts.PositionValuer.
type AccountService struct {
	registry *Registry
	store    TradeStore
	prices   *PriceService
	cache    *redis.Cache
}

// NewAccountService creates an account service. cache may be nil.
func NewAccountService(registry *Registry, store TradeStore, prices *PriceService, cache *redis.Cache) *AccountService {
	return &AccountService{registry: registry, store: store, prices: prices, cache: cache}
}

// Snapshot returns the broker's cash and holdings
func (s *AccountService) Snapshot(ctx context.Context, broker contracts.Broker) (*contracts.AccountSnapshot, error) {
	key := redis.AccountKey(string(broker))
	if s.cache != nil {
		var cached contracts.AccountSnapshot
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	client, err := s.registry.Account(broker)
	if err != nil {
		return nil, err
	}
	snap, err := client.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", contracts.ErrDataIntegrity, broker, err)
	}
	if snap == nil || snap.Cash.IsNegative() {
		return nil, fmt.Errorf("%w: malformed account snapshot for %s", contracts.ErrDataIntegrity, broker)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, snap, redis.TTLAccount)
	}
	return snap, nil
}

// Invalidate drops the cached snapshot so the next read sees the broker's post-fill cash
func (s *AccountService) Invalidate(ctx context.Context, broker contracts.Broker) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, redis.AccountKey(string(broker)))
}

// GetAccountCash returns the broker's deposit in the market's quote currency
func (s *AccountService) GetAccountCash(ctx context.Context, broker contracts.Broker, market contracts.Market) (decimal.Decimal, error) {
	snap, err := s.Snapshot(ctx, broker)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.CashFor(market), nil
}

// GetPositionValue sums mark value of local positions. Empty market/symbol match all.
// A single missing price fails the whole valuation.
func (s *AccountService) GetPositionValue(ctx context.Context, broker contracts.Broker, market contracts.Market, symbol string) (decimal.Decimal, error) {
	positions, err := s.store.ListPositions(ctx, broker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", contracts.ErrDataIntegrity, err)
	}

	total := decimal.Zero
	for _, p := range positions {
		if market != "" && p.Market != market {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		price, err := s.prices.GetPrice(ctx, broker, p.Market, p.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(p.Qty.Mul(price))
	}
	return total, nil
}

// Equity returns cash plus marked position value of one market, in its quote currency
func (s *AccountService) Equity(ctx context.Context, broker contracts.Broker, market contracts.Market) (decimal.Decimal, error) {
	cash, err := s.GetAccountCash(ctx, broker, market)
	if err != nil {
		return decimal.Zero, err
	}
	value, err := s.GetPositionValue(ctx, broker, market, "")
	if err != nil {
		return decimal.Zero, err
	}
	return cash.Add(value), nil
}
