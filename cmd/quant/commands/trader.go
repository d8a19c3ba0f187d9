package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/scheduler"
	"github.com/wonny/aegis-trader/internal/scheduler/jobs"
)

// traderCmd represents the trader command group
var traderCmd = &cobra.Command{
	Use:   "trader",
	Short: "트레이딩 파이프라인",
	Long: `마켓 루프, 서킷 브레이커, 포지션 대사를 실행합니다.

Subcommands:
  start      - LOOP_MODE=true: 스케줄러 + 운영 API, false: 1회 실행 후 종료
  tick       - 특정 마켓 루프 1회 실행
  reconcile  - 브로커 잔고로 로컬 포지션 대사

Example:
  go run ./cmd/quant trader start
  go run ./cmd/quant trader tick --market CRYPTO
  go run ./cmd/quant trader reconcile --broker upbit`,
}

var (
	traderStartCmd = &cobra.Command{
		Use:   "start",
		Short: "트레이더 시작",
		Long: `EXECUTE_MARKETS 의 마켓마다 루프를 등록하고 스케줄러를 시작합니다.

등록되는 작업:
- market_loop_<MARKET>: LOOP_INTERVAL_<MARKET> 마다 (중첩 실행 없음, 재시도 없음)
- exit_watch_<MARKET>: LOOP_INTERVAL_<MARKET> 마다 (손절/익절 SELL 시그널 생성)
- circuit_breaker: BREAKER_INTERVAL 마다
- reconcile_positions: RECONCILE_INTERVAL 마다 (실패 시 재시도 2회)
- cooldown_watch: 1분마다 (쿨다운 만료 알림)

LOOP_MODE=false 이면 마켓 루프와 브레이커를 1회씩 실행하고 종료합니다.`,
		RunE: runTraderStart,
	}

	traderTickCmd = &cobra.Command{
		Use:   "tick",
		Short: "마켓 루프 1회 실행",
		RunE:  runTraderTick,
	}

	traderReconcileCmd = &cobra.Command{
		Use:   "reconcile",
		Short: "포지션 대사",
		RunE:  runTraderReconcile,
	}
)

var (
	tickMarket      string
	reconcileBroker string
)

func init() {
	rootCmd.AddCommand(traderCmd)
	traderCmd.AddCommand(traderStartCmd)
	traderCmd.AddCommand(traderTickCmd)
	traderCmd.AddCommand(traderReconcileCmd)

	traderTickCmd.Flags().StringVar(&tickMarket, "market", "CRYPTO", "마켓 (CRYPTO|KRX|US)")
	traderReconcileCmd.Flags().StringVar(&reconcileBroker, "broker", "", "브로커 (kis|upbit, 기본값: 전체)")
}

func runTraderStart(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	mode := "LIVE"
	if a.cfg.Trading.DryRun {
		mode = "DRY RUN"
	}
	PrintDoubleSeparator()
	fmt.Printf("  Aegis Trader · %s · markets %v\n", mode, a.cfg.Trading.ExecuteMarkets)
	PrintDoubleSeparator()

	if !a.cfg.Trading.LoopMode {
		return runOnce(cmd.Context(), a)
	}

	sched, err := initScheduler(a)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server().Run(ctx)
	}()

	sched.Start()

	fmt.Println("\n✅ Trader started")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Printf("\nOps API on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	serverDone := false
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		// API 가 죽어도 트레이딩은 계속: 운영 엔드포인트만 사라짐
		serverDone = true
		if err != nil {
			a.log.WithError(err).Error("API server stopped")
		}
		<-ctx.Done()
	}

	fmt.Println("\nStopping trader...")
	sched.Stop()

	if !serverDone {
		if err := <-serverErr; err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
	}

	PrintSuccess("Trader stopped")
	return nil
}

// initScheduler registers every job of the trading process
func initScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)

	var toAdd []scheduler.Job
	for _, market := range a.markets() {
		interval := a.cfg.LoopInterval(string(market))
		toAdd = append(toAdd,
			jobs.NewMarketLoopJob(a.marketLoop(market), interval, a.log),
			jobs.NewExitWatchJob(a.exits, market, interval, a.log),
		)
	}
	brokers := a.brokers()
	toAdd = append(toAdd,
		jobs.NewBreakerJob(a.breaker, brokers, a.cfg.Breaker.Interval, a.log),
		jobs.NewReconcileJob(a.reconciler, brokers, a.cfg.Reconcile.Interval, a.log),
		jobs.NewCooldownWatchJob(a.guard, a.notifier, a.log),
	)

	for _, job := range toAdd {
		if err := sched.AddJob(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// runOnce scans exits, ticks every market then checks the breaker of every broker
func runOnce(ctx context.Context, a *app) error {
	var errs []error
	for _, market := range a.markets() {
		if _, err := a.exits.Scan(ctx, market); err != nil {
			errs = append(errs, fmt.Errorf("%s exits: %w", market, err))
		}
		result, err := a.marketLoop(market).Tick(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s loop: %w", market, err))
			continue
		}
		renderTick(result)
	}
	for _, broker := range a.brokers() {
		status, err := a.breaker.Check(ctx, broker)
		if status != nil {
			renderBreakerStatus(status)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s breaker: %w", broker, err))
		}
	}
	return errors.Join(errs...)
}

func runTraderTick(cmd *cobra.Command, args []string) error {
	market, ok := contracts.ParseMarket(tickMarket)
	if !ok {
		return fmt.Errorf("%w: unknown market %q", contracts.ErrInvalidInput, tickMarket)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.marketLoop(market).Tick(cmd.Context())
	if err != nil {
		return err
	}
	renderTick(result)
	return nil
}

func runTraderReconcile(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	brokers := a.brokers()
	if reconcileBroker != "" {
		b, ok := contracts.ParseBroker(reconcileBroker)
		if !ok {
			return fmt.Errorf("%w: unknown broker %q", contracts.ErrInvalidInput, reconcileBroker)
		}
		brokers = []contracts.Broker{b}
	}

	var errs []error
	for _, b := range brokers {
		report, err := a.reconciler.Reconcile(cmd.Context(), b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		renderReconcile(report)
	}
	return errors.Join(errs...)
}
