package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-trader/migrations"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/database"
	"github.com/wonny/aegis-trader/pkg/logger"
)

// migrateCmd applies the embedded SQL schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "DB 스키마 적용",
	Long: `migrations/*.sql 을 순서대로 적용합니다. 모든 문장은 멱등입니다.

Example:
  go run ./cmd/quant migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyGlobalFlags(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	applied, err := db.Migrate(ctx, migrations.Files)
	for _, name := range applied {
		PrintSuccess("applied " + name)
	}
	if err != nil {
		return err
	}

	log.WithField("count", len(applied)).Info("Migrations applied")
	return nil
}
