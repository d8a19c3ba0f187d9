package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/pkg/logger"
	"github.com/wonny/aegis-trader/pkg/redis"
)

// PriceService fetches broker quotes through a short-lived Redis cache
type PriceService struct {
	registry *Registry
	cache    *redis.Cache
	ttl      time.Duration
	logger   *logger.Logger
}

// NewPriceService creates a price service. cache may be nil.
func NewPriceService(registry *Registry, cache *redis.Cache, ttl time.Duration, log *logger.Logger) *PriceService {
	if ttl <= 0 {
		ttl = redis.TTLQuote
	}
	return &PriceService{registry: registry, cache: cache, ttl: ttl, logger: log}
}

// GetPrice returns a positive mark price or an ErrDataIntegrity-wrapped error
func (s *PriceService) GetPrice(ctx context.Context, broker contracts.Broker, market contracts.Market, symbol string) (decimal.Decimal, error) {
	key := redis.PriceKey(string(broker), symbol)

	if s.cache != nil {
		var cached decimal.Decimal
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			// 캐시 장애는 시세 조회를 막지 않음
			s.logger.WithError(err).Warn("price cache read failed")
		} else if hit && cached.IsPositive() {
			return cached, nil
		}
	}

	client, err := s.registry.Get(broker)
	if err != nil {
		return decimal.Zero, err
	}

	price, err := client.GetCurrentPrice(ctx, market, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s/%s: %v", contracts.ErrDataIntegrity, broker, symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s for %s", contracts.ErrDataIntegrity, price, symbol)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, price, s.ttl); err != nil {
			s.logger.WithError(err).Warn("price cache write failed")
		}
	}
	return price, nil
}
