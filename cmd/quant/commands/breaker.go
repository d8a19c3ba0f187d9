package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/internal/contracts"
)

// breakerCmd represents the breaker command group
var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "서킷 브레이커",
}

var breakerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "서킷 브레이커 즉시 점검",
	Long: `일일 손익과 고점 대비 낙폭을 계산해 한도와 비교합니다.
한도를 넘으면 거래 중단 → 쿨다운 → 청산 → 알림이 즉시 실행됩니다.

Example:
  go run ./cmd/quant breaker check --broker upbit
  go run ./cmd/quant breaker check --broker kis --dry-run=false`,
	RunE: runBreakerCheck,
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset-high-water",
	Short: "드로다운 기준 고점 리셋",
	Long: `브로커의 누적 자산 고점을 지웁니다. 다음 점검의 자산이 새 기준 고점이 됩니다.
입출금 등으로 자산 규모가 바뀐 뒤에 실행합니다.

Example:
  go run ./cmd/quant breaker reset-high-water --broker kis`,
	RunE: runBreakerReset,
}

var breakerBroker string

func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.AddCommand(breakerCheckCmd)
	breakerCmd.AddCommand(breakerResetCmd)

	breakerCheckCmd.Flags().StringVar(&breakerBroker, "broker", "", "브로커 (kis|upbit, 기본값: 전체)")
	breakerResetCmd.Flags().StringVar(&breakerBroker, "broker", "", "브로커 (kis|upbit)")
	_ = breakerResetCmd.MarkFlagRequired("broker")
}

func runBreakerReset(cmd *cobra.Command, args []string) error {
	b, ok := contracts.ParseBroker(breakerBroker)
	if !ok {
		return fmt.Errorf("%w: unknown broker %q", contracts.ErrInvalidInput, breakerBroker)
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.breaker.ResetHighWater(cmd.Context(), b, "cli"); err != nil {
		return err
	}
	PrintSuccess(fmt.Sprintf("%s: high-water mark reset", b))
	return nil
}

func runBreakerCheck(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	brokers := a.brokers()
	if breakerBroker != "" {
		b, ok := contracts.ParseBroker(breakerBroker)
		if !ok {
			return fmt.Errorf("%w: unknown broker %q", contracts.ErrInvalidInput, breakerBroker)
		}
		brokers = []contracts.Broker{b}
	}

	var errs []error
	for _, b := range brokers {
		status, err := a.breaker.Check(cmd.Context(), b)
		if status != nil {
			renderBreakerStatus(status)
			if status.Tripped {
				PrintWarning(fmt.Sprintf("%s: circuit breaker tripped (%s)", b, status.Reason))
			}
		}
		if err != nil {
			PrintError(fmt.Sprintf("%s: %v", b, err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
