package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Load_And_OperatorAuthEnabled(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("OPERATOR_USERNAME", "planner")
	t.Setenv("OPERATOR_PASSWORD_HASH", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.OperatorAuthEnabled())
	assert.True(t, cfg.ScheduleLockEnabled())
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())

	require.NoError(t, os.Unsetenv("OPERATOR_PASSWORD_HASH"))
	require.NoError(t, os.Unsetenv("REDIS_URL"))
	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.OperatorAuthEnabled())
	assert.False(t, cfg.ScheduleLockEnabled())
}

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.DBAutoMigrate)
	assert.Equal(t, 5*time.Second, cfg.ScheduleLockTTL)
	assert.Equal(t, "configs/lookups.yaml", cfg.LookupSeedPath)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 5000, cfg.MaxImportRows)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ImportBatchTimeout)
}

func Test_Load_InvalidDuration(t *testing.T) {
	t.Setenv("SCHEDULE_LOCK_TTL", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=config.Load")
}

func Test_GetDBBackoffConfig(t *testing.T) {
	cfg := Config{AppEnv: "test", DBConnectTimeout: time.Minute}
	maxElapsed, initial, maxInterval := cfg.GetDBBackoffConfig()
	assert.Equal(t, 2*time.Second, maxElapsed)
	assert.Equal(t, 50*time.Millisecond, initial)
	assert.Equal(t, 500*time.Millisecond, maxInterval)

	cfg.AppEnv = "prod"
	cfg.DBBackoffInitialInterval = time.Second
	cfg.DBBackoffMaxInterval = 3 * time.Second
	maxElapsed, initial, maxInterval = cfg.GetDBBackoffConfig()
	assert.Equal(t, time.Minute, maxElapsed)
	assert.Equal(t, time.Second, initial)
	assert.Equal(t, 3*time.Second, maxInterval)
	assert.True(t, cfg.IsProd())
}
