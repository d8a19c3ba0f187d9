package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/wonny/aegis-trader/internal/breaker"
	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/internal/trading"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Println()
	fmt.Printf("⚠️  %s\n", message)
	fmt.Println()
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	fmt.Printf("ℹ️  %s\n", message)
}

var hundred = decimal.NewFromInt(100)

// newTable creates a rounded key/value table writing to stdout
func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// renderGuard prints the shared guard record
func renderGuard(state *contracts.GuardState, now time.Time) {
	t := newTable("SYSTEM GUARD")
	enabled := text.FgGreen.Sprint("ENABLED")
	if !state.TradingEnabled {
		enabled = text.FgRed.Sprint("DISABLED")
	}
	block := state.BlockReason(now)
	if block == "" {
		block = "-"
	}
	t.AppendRows([]table.Row{
		{"Trading", enabled},
		{"Cooldown Until", formatTime(state.CooldownUntil)},
		{"In Cooldown", state.InCooldown(now)},
		{"Error Count", state.ErrorCount},
		{"Reason", state.Reason},
		{"Block Reason", block},
		{"Version", state.Version},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 15, Align: text.AlignLeft},
		{Number: 2, WidthMin: 30, Align: text.AlignLeft},
	})
	t.Render()
}

// renderBreakerStatus prints one breaker check
func renderBreakerStatus(s *breaker.Status) {
	t := newTable("CIRCUIT BREAKER · " + string(s.Broker))
	state := text.FgGreen.Sprint(s.State)
	if s.State == breaker.StateHalted {
		state = text.FgRed.Sprint(s.State)
	}
	reason := s.Reason
	if reason == "" {
		reason = "-"
	}
	t.AppendRows([]table.Row{
		{"State", state},
		{"Triggered", s.Triggered},
		{"Reason", reason},
		{"Tripped Now", s.Tripped},
	})
	// 마켓별로 각자의 통화 단위
	for _, m := range s.Markets {
		t.AppendSeparator()
		mark := ""
		if m.Triggered {
			mark = text.FgRed.Sprint(" ← " + m.Reason)
		}
		t.AppendRows([]table.Row{
			{"Market", fmt.Sprintf("%s (%s)%s", m.Market, m.Currency, mark)},
			{"Daily P&L", m.DailyPnL.StringFixed(2)},
			{"Daily P&L %", m.DailyPnLPct.Mul(hundred).StringFixed(2) + "%"},
			{"Equity", m.Equity.StringFixed(2)},
			{"High Water", m.HighWater.StringFixed(2)},
			{"Drawdown %", m.Drawdown.Mul(hundred).StringFixed(2) + "%"},
		})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Cooldown Until", formatTime(s.CooldownUntil)},
		{"Checked At", s.CheckedAt.Local().Format(time.RFC3339)},
	})
	t.Render()

	if s.Liquidation != nil {
		renderLiquidation(s.Liquidation)
	}
}

// renderLiquidation prints the per-symbol records of a run
func renderLiquidation(sum *contracts.LiquidationSummary) {
	title := "LIQUIDATION · " + string(sum.Broker)
	if sum.DryRun {
		title += " (DRY RUN)"
	}
	t := newTable(title)
	t.AppendHeader(table.Row{"Symbol", "Market", "Qty", "Attempts", "Result", "Order ID", "Error"})
	for _, r := range sum.Records {
		result := text.FgGreen.Sprint("OK")
		if !r.Success {
			result = text.FgRed.Sprint("FAILED")
		}
		t.AppendRow(table.Row{r.Symbol, r.Market, r.Qty.String(), r.Attempts, result, r.OrderID, r.Error})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d/%d", sum.Succeeded, sum.Attempted), "run " + sum.RunID, sum.Duration.Round(time.Millisecond)})
	t.Render()
}

// renderTick prints one market loop iteration
func renderTick(r *trading.TickResult) {
	t := newTable("MARKET LOOP · " + string(r.Market))
	if r.Skipped {
		t.AppendRow(table.Row{"Skipped", r.SkipReason})
		t.Render()
		return
	}
	t.AppendRow(table.Row{"Fetched", r.Fetched})
	outcomes := make([]string, 0, len(r.Outcomes))
	for o := range r.Outcomes {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		t.AppendRow(table.Row{o, r.Outcomes[o]})
	}
	t.AppendSeparator()
	t.AppendRow(table.Row{"Errors", r.Errors})
	t.AppendRow(table.Row{"Duration", r.Duration.Round(time.Millisecond)})
	t.Render()
}

// renderReconcile prints a reconciliation report
func renderReconcile(r *trading.ReconcileReport) {
	t := newTable("RECONCILE · " + string(r.Broker))
	t.AppendHeader(table.Row{"Symbol", "Local Qty", "Broker Qty"})
	for _, m := range r.Mismatches {
		t.AppendRow(table.Row{m.Symbol, m.LocalQty, m.BrokerQty})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("checked %d", r.Checked), fmt.Sprintf("mismatches %d", len(r.Mismatches)), fmt.Sprintf("replaced %v", r.Replaced)})
	t.Render()
}
