package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/liquidation"
)

// liquidateCmd market-sells every open position of one broker
var liquidateCmd = &cobra.Command{
	Use:   "liquidate",
	Short: "브로커 전체 포지션 강제 청산",
	Long: `브로커의 모든 보유 포지션을 시장가로 매도합니다 (포지션당 최대 3회 시도).
실거래 청산은 --dry-run=false 와 확인 입력이 필요합니다.

Example:
  go run ./cmd/quant liquidate --broker upbit
  go run ./cmd/quant liquidate --broker upbit --pct 0.5 --dry-run=false`,
	RunE: runLiquidate,
}

var (
	liquidateBroker string
	liquidatePct    string
	liquidateYes    bool
)

func init() {
	rootCmd.AddCommand(liquidateCmd)

	liquidateCmd.Flags().StringVar(&liquidateBroker, "broker", "", "브로커 (kis|upbit)")
	liquidateCmd.Flags().StringVar(&liquidatePct, "pct", "1", "청산 비율 (0,1]")
	liquidateCmd.Flags().BoolVarP(&liquidateYes, "yes", "y", false, "확인 없이 실행")
	_ = liquidateCmd.MarkFlagRequired("broker")
}

func runLiquidate(cmd *cobra.Command, args []string) error {
	broker, ok := contracts.ParseBroker(liquidateBroker)
	if !ok {
		return fmt.Errorf("%w: unknown broker %q", contracts.ErrInvalidInput, liquidateBroker)
	}
	pct, err := decimal.NewFromString(liquidatePct)
	if err != nil {
		return fmt.Errorf("%w: pct %q", contracts.ErrInvalidInput, liquidatePct)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	live := !a.cfg.Trading.DryRun
	if live && !liquidateYes && !confirm(fmt.Sprintf("LIVE liquidation of %s x%s. Type 'yes' to continue: ", broker, pct)) {
		PrintInfo("Aborted")
		return nil
	}

	summary, err := a.liquidator.Liquidate(cmd.Context(), liquidation.Request{
		Broker: broker,
		Pct:    pct,
		DryRun: !live,
		Reason: "manual",
	})
	if summary != nil {
		renderLiquidation(summary)
	}
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d positions failed to liquidate", summary.Failed, summary.Attempted)
	}
	PrintSuccess(fmt.Sprintf("Liquidated %d positions", summary.Succeeded))
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes"
}
