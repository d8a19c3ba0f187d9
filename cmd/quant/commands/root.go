package commands

import (
	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/pkg/config"
)

var (
	// Global flags
	env     string
	verbose bool
	dryRun  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "Aegis Trader - 리스크 게이트 기반 자동 주문 실행",
	Long: `Aegis Trader Unified CLI

시그널 큐 → 리스크 검증 → 주문 실행 → 서킷 브레이커.
KIS (KRX, US) 와 Upbit (CRYPTO) 를 지원합니다.

Usage:
  go run ./cmd/quant [command]

Examples:
  go run ./cmd/quant migrate
  go run ./cmd/quant trader start
  go run ./cmd/quant breaker check --broker upbit
  go run ./cmd/quant guard status
  go run ./cmd/quant liquidate --broker upbit --dry-run`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "environment override (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug log level)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", true, "override DRY_RUN (false = 실거래)")
}

// applyGlobalFlags overlays explicitly set flags onto the loaded config and re-validates it
func applyGlobalFlags(cfg *config.Config) error {
	flags := rootCmd.PersistentFlags()
	if env != "" {
		cfg.Env = env
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if flags.Changed("dry-run") {
		cfg.Trading.DryRun = dryRun
	}
	return cfg.Validate()
}
