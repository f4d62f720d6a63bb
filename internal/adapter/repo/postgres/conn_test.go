package postgres

import (
	"context"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/print-mes/internal/config"
)

func TestNewPool_InvalidDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "://bad"); err == nil {
		t.Fatalf("expected error for invalid dsn")
	}
}

func TestConnect_GivesUpWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	cfg := config.Config{
		AppEnv:                   "test",
		DBURL:                    "postgres://u:p@127.0.0.1:1/none?sslmode=disable&connect_timeout=1",
		DBConnectTimeout:         time.Second,
		DBBackoffInitialInterval: 10 * time.Millisecond,
		DBBackoffMaxInterval:     50 * time.Millisecond,
	}
	_, err := Connect(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "op=db.connect")
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)
	b, err := fs.ReadFile(Migrations(), names[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), "-- +goose Up")
	assert.Contains(t, string(b), workOrderConstraint)
	assert.Contains(t, string(b), slotConstraint)
}
