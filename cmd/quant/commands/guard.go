package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/notify"
)

// guardCmd represents the guard command group
// ⭐ 운영자 수동 개입: 쿨다운 중에는 enable 거부
var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "시스템 가드 (거래 on/off)",
	Long: `모든 프로세스가 공유하는 system_guard 레코드를 조회/변경합니다.

Example:
  go run ./cmd/quant guard status
  go run ./cmd/quant guard disable --reason "broker maintenance"
  go run ./cmd/quant guard enable`,
}

var (
	guardStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "가드 상태 조회",
		RunE:  runGuardStatus,
	}

	guardEnableCmd = &cobra.Command{
		Use:   "enable",
		Short: "거래 재개 (쿨다운 중이면 거부)",
		RunE:  runGuardEnable,
	}

	guardDisableCmd = &cobra.Command{
		Use:   "disable",
		Short: "거래 중단",
		RunE:  runGuardDisable,
	}
)

var guardReason string

func init() {
	rootCmd.AddCommand(guardCmd)
	guardCmd.AddCommand(guardStatusCmd)
	guardCmd.AddCommand(guardEnableCmd)
	guardCmd.AddCommand(guardDisableCmd)

	guardDisableCmd.Flags().StringVar(&guardReason, "reason", "manual disable", "중단 사유")
}

func runGuardStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.guard.Get(cmd.Context())
	if err != nil {
		return err
	}
	renderGuard(state, time.Now())
	return nil
}

func runGuardEnable(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	now := time.Now()
	state, err := a.guard.Enable(ctx, now)
	if errors.Is(err, contracts.ErrGuardBlocked) {
		PrintError("쿨다운 중에는 거래를 재개할 수 없습니다")
		if state != nil {
			renderGuard(state, now)
		}
		return err
	}
	if err != nil {
		return err
	}

	recordOverride(ctx, a, "enable", "")
	renderGuard(state, now)
	PrintSuccess("Trading enabled")
	return nil
}

func runGuardDisable(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	state, err := a.guard.Disable(ctx, guardReason)
	if err != nil {
		return err
	}

	recordOverride(ctx, a, "disable", guardReason)
	renderGuard(state, time.Now())
	PrintSuccess("Trading disabled")
	return nil
}

// recordOverride writes the GUARD_OVERRIDE event and tells the operators
func recordOverride(ctx context.Context, a *app, action, reason string) {
	err := a.events.LogRiskEvent(ctx, &contracts.RiskEvent{
		Type:     contracts.RiskEventGuardOverride,
		Severity: contracts.SeverityWarning,
		Message:  "guard " + action + " via cli",
		Details:  map[string]interface{}{"action": action, "reason": reason},
	})
	if err != nil {
		a.log.WithError(err).Warn("Failed to write guard override event")
	}

	err = a.notifier.Send(ctx, notify.Event{
		Level:   notify.LevelWarning,
		Title:   "Guard " + action,
		Message: fmt.Sprintf("trading %sd by operator", action),
		Fields:  map[string]string{"reason": reason},
		At:      time.Now(),
	})
	if err != nil {
		a.log.WithError(err).Warn("Failed to send guard notification")
	}
}
