package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10, config.MaxOpenConns)
	assert.Equal(t, 5, config.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, config.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 30*time.Second, config.QueryTimeout)
	assert.False(t, config.Enabled)
}

func TestNewManager_Disabled(t *testing.T) {
	manager, err := NewManager(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, manager.IsEnabled())
	assert.Nil(t, manager.Repository())
	assert.Nil(t, manager.DB())
	assert.NoError(t, manager.Ping(context.Background()))
	assert.NoError(t, manager.Close())

	health := manager.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Contains(t, health.Errors[0], "disabled")
}

func TestNewManager_MissingDSN(t *testing.T) {
	_, err := NewManager(Config{Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

func TestNewManagerWithDB_WiresRepositories(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	manager := NewManagerWithDB(sqlx.NewDb(mockDB, "postgres"), Config{})
	assert.True(t, manager.IsEnabled())

	repos := manager.Repository()
	require.NotNil(t, repos)
	assert.NotNil(t, repos.Prices)
	assert.NotNil(t, repos.Writer)
	assert.NotNil(t, repos.Trades)
	assert.NotNil(t, repos.Signals)
	assert.NotNil(t, repos.Models)

	mock.ExpectPing()
	health := manager.Health(context.Background())
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())

	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.DSN = "postgres://localhost/predictrun"
	assert.NoError(t, cfg.Validate())

	cfg.MaxIdleConns = 20
	assert.Error(t, cfg.Validate())
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://env/db")
	t.Setenv("PG_ENABLED", "true")
	t.Setenv("PG_QUERY_TIMEOUT", "5s")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "postgres://env/db", cfg.DSN)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
}
