package guard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/aegis-trader/internal/contracts"
	"github.com/wonny/aegis-trader/migrations"
	"github.com/wonny/aegis-trader/pkg/config"
	"github.com/wonny/aegis-trader/pkg/database"
)

func TestRepository_MonotonicCooldown(t *testing.T) {
	// Skip if DATABASE_URL is not set
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	db, err := database.New(cfg)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Migrate(ctx, migrations.Files)
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx, `UPDATE system_guard SET trading_enabled = true, cooldown_until = NULL, error_count = 0 WHERE id = 1`)
	require.NoError(t, err)

	repo := NewRepository(db.Pool)
	now := time.Now().UTC().Truncate(time.Second)

	_, err = repo.ExtendCooldown(ctx, now.Add(time.Hour), "first")
	require.NoError(t, err)
	state, err := repo.ExtendCooldown(ctx, now.Add(10*time.Minute), "second")
	require.NoError(t, err)
	assert.True(t, state.CooldownUntil.Equal(now.Add(time.Hour)))

	_, err = repo.Enable(ctx, now)
	assert.ErrorIs(t, err, contracts.ErrGuardBlocked)

	_, err = db.Pool.Exec(ctx, `UPDATE system_guard SET cooldown_until = NULL WHERE id = 1`)
	require.NoError(t, err)
}
