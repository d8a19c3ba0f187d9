package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "운영 API 서버 시작",
	Long: `운영용 REST API 서버만 시작합니다 (마켓 루프 없음).

Endpoints:
  GET  /health                       - Health check (Postgres, Redis)
  GET  /metrics                      - Prometheus metrics
  GET  /api/guard                    - 가드 상태 조회
  POST /api/guard                    - 거래 활성화/비활성화
  GET  /api/risk/events              - 최근 리스크 이벤트
  POST /api/breaker/{broker}/check   - 서킷 브레이커 즉시 점검
  POST /api/breaker/{broker}/reset-high-water - 드로다운 기준 고점 리셋

Example:
  go run ./cmd/quant api
  go run ./cmd/quant api --port 8090`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본값: PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Trader API Server ===")

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	// Ctrl+C 로 graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.server().Run(ctx); err != nil {
		return err
	}

	a.log.Info("Server stopped")
	return nil
}
