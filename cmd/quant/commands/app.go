package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/aegis-trader/internal/api"
	"github.com/wonny/aegis-trader/internal/api/handlers"
	"github.com/wonny/aegis-trader/internal/audit"
	"github.com/wonny/aegis-trader/internal/breaker"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/execution"
	"github.com/wonny/aegis-trader/internal/external/kis"
	"github.com/wonny/aegis-trader/internal/external/upbit"
	"github.com/wonny/aegis-trader/internal/guard"
	"github.com/wonny/aegis-trader/internal/liquidation"
	"github.com/wonny/aegis-trader/internal/metrics"
	"github.com/wonny/aegis-trader/internal/notify"
	"github.com/wonny/aegis-trader/internal/risk"
	"github.com/wonny/aegis-trader/internal/riskconfig"
	"github.com/wonny/aegis-trader/internal/signals"
	"github.com/wonny/aegis-trader/internal/trading"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/database"
	"github.com/wonny/aegis-trader/pkg/httputil"
	"github.com/wonny/aegis-trader/pkg/logger"
	"github.com/wonny/aegis-trader/pkg/redis"
)

// priceCacheTTL bounds how stale a cached quote may be
const priceCacheTTL = 5 * time.Second

// app holds every wired component of one process
// ⭐ SSOT: 의존성 조립은 여기서만
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	redis   *redis.Client
	metrics *metrics.Metrics

	registry   *execution.Registry
	trades     *execution.Repository
	prices     *execution.PriceService
	accounts   *execution.AccountService
	executor   *execution.Executor
	guard      guard.Store
	auditRepo  *audit.Repository
	events     *audit.EventLogger
	ace        *audit.ACELogger
	signals    *signals.Repository
	validator  *risk.Validator
	notifier   notify.Notifier
	liquidator *liquidation.Liquidator
	breaker    *breaker.Breaker
	reconciler *trading.Reconciler
	exits      *trading.ExitMonitor
}

// loadApp loads config, connects to Postgres/Redis and wires every component
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyGlobalFlags(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg)
	return newApp(cfg, log)
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	rdb, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	limits, limitsHash, err := riskconfig.LoadLimits(cfg.Risk.LimitsFile, risk.LimitsFromConfig(cfg.Risk))
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("%w: risk limits: %v", config.ErrFatalConfig, err)
	}
	if limitsHash != "" {
		log.WithFields(map[string]interface{}{
			"file": cfg.Risk.LimitsFile,
			"hash": limitsHash,
		}).Info("Risk limits loaded")
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		redis:   rdb,
		metrics: metrics.New(),
	}

	cache := redis.NewCache(rdb, "aegis")
	a.registry = execution.NewRegistry(brokerClients(cfg, rdb, log)...)
	a.trades = execution.NewRepository(db.Pool)
	a.prices = execution.NewPriceService(a.registry, cache, priceCacheTTL, log)
	a.accounts = execution.NewAccountService(a.registry, a.trades, a.prices, cache)
	a.guard = guard.NewRepository(db.Pool)
	a.auditRepo = audit.NewRepository(db.Pool)
	a.events = audit.NewEventLogger(a.auditRepo, log)
	a.ace = audit.NewACELogger(a.auditRepo)
	a.signals = signals.NewRepository(db.Pool)
	a.validator = risk.NewValidator(limits, nil)
	a.notifier = notifierFor(cfg, log)

	a.executor = execution.NewExecutor(a.registry, a.trades, log, cfg.Trading.DryRun).
		WithOutcomes(a.ace).
		WithMetrics(a.metrics).
		WithAccountCache(a.accounts)

	a.liquidator = liquidation.New(liquidation.Config{
		Positions: a.trades,
		Placer:    a.executor,
		Prices:    a.prices,
		Records:   liquidation.NewRepository(db.Pool),
		Notifier:  a.notifier,
		Events:    a.events,
		Metrics:   a.metrics,
		Logger:    log,
	})

	a.breaker = breaker.New(cfg.Breaker, cfg.Trading.DryRun, breaker.Deps{
		PnL:        breaker.NewPnLCalculator(a.trades, a.prices),
		Account:    a.accounts,
		Valuer:     a.accounts,
		Equity:     breaker.NewEquityRepository(db.Pool),
		Guard:      a.guard,
		Liquidator: a.liquidator,
		Notifier:   a.notifier,
		Events:     a.events,
		Metrics:    a.metrics,
		Logger:     log,
		Markets:    a.markets(),
	})

	a.reconciler = trading.NewReconciler(a.registry, a.trades, a.events, a.metrics, log)
	a.exits = trading.NewExitMonitor(a.trades, a.prices, a.signals, cfg.Risk, log)

	return a, nil
}

// Close releases Postgres and Redis
func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close redis")
	}
	a.db.Close()
}

// marketLoop builds the loop of one market
func (a *app) marketLoop(market contracts.Market) *trading.MarketLoop {
	return trading.NewMarketLoop(market, a.cfg.Trading, a.cfg.Risk, trading.LoopDeps{
		Signals:   a.signals,
		Guard:     a.guard,
		Validator: a.validator,
		Executor:  a.executor,
		ACE:       a.ace,
		Account:   a.accounts,
		Valuer:    a.accounts,
		Positions: a.trades,
		Events:    a.events,
		Metrics:   a.metrics,
		Logger:    a.log,
	})
}

// markets returns the enabled markets in config order
func (a *app) markets() []contracts.Market {
	out := make([]contracts.Market, 0, len(a.cfg.Trading.ExecuteMarkets))
	for _, m := range a.cfg.Trading.ExecuteMarkets {
		out = append(out, contracts.Market(m))
	}
	return out
}

// brokers returns the distinct brokers behind the enabled markets
func (a *app) brokers() []contracts.Broker {
	seen := make(map[contracts.Broker]bool)
	var out []contracts.Broker
	for _, m := range a.markets() {
		b := contracts.BrokerFor(m)
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	return out
}

// server builds the ops API server
func (a *app) server() *api.Server {
	routes := api.Routes{
		Guard:  handlers.NewGuardHandler(a.guard, a.events, a.log),
		Risk:   handlers.NewRiskHandler(a.auditRepo, a.breaker, a.log),
		Health: a.health,
	}
	if a.cfg.MetricsEnabled {
		routes.Metrics = a.metrics.Handler()
	}
	return api.New(api.Options{
		Addr:   ":" + a.cfg.Port,
		Env:    a.cfg.Env,
		DryRun: a.cfg.Trading.DryRun,
	}, routes, a.log)
}

// health pings Postgres and Redis
func (a *app) health(ctx context.Context) error {
	return errors.Join(a.db.Ping(ctx), a.redis.Ping(ctx))
}

// brokerClients creates one client per configured broker.
// Each gets its own HTTP client so rate limits stay per broker.
func brokerClients(cfg *config.Config, rdb *redis.Client, log *logger.Logger) []contracts.BrokerClient {
	var shared *redis.RateLimiter
	if rdb.Enabled() {
		shared = redis.NewRateLimiter(rdb, "aegis")
	}

	limited := func(limit redis.RateLimitConfig) *httputil.Client {
		c := httputil.New(log).WithLimiter(httputil.LimiterFor(limit))
		if shared != nil {
			c = c.WithRateLimiter(shared, limit)
		}
		return c
	}

	var clients []contracts.BrokerClient

	if cfg.HasMarket(config.MarketKRX) || cfg.HasMarket(config.MarketUS) {
		limit := redis.KISRateLimit
		if cfg.KIS.IsVirtual {
			limit = redis.KISVirtualRateLimit
		}
		clients = append(clients, kis.NewClient(cfg.KIS, limited(limit), log))
	}

	if cfg.HasMarket(config.MarketCrypto) {
		signer := upbit.NewHMACSigner(cfg.Upbit.AccessKey, cfg.Upbit.SecretKey)
		clients = append(clients, upbit.NewClient(cfg.Upbit, signer, limited(redis.UpbitOrderRateLimit), log))
	}

	return clients
}

// notifierFor always logs; Telegram is added when a token is configured
func notifierFor(cfg *config.Config, log *logger.Logger) notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegramNotifier(httputil.New(log), cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	return sinks
}
