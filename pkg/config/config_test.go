package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 10, cfg.Earnings.CashbackDays)
	require.Equal(t, 1, cfg.Queue.AccrualConcurrency)
	require.Equal(t, 3, cfg.Queue.ValidationConcurrency)
	require.Equal(t, 3, cfg.Queue.MaxRetry)
	require.Equal(t, 30*time.Second, cfg.Queue.BackoffBase)
	require.Equal(t, uint64(3), cfg.Blockchain.MinConfirmations)
	require.Equal(t, int32(18), cfg.Blockchain.TokenDecimals)
	require.Equal(t, 10*time.Second, cfg.Blockchain.RPCTimeout)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EARNINGS_CASHBACK_DAYS", "13")
	t.Setenv("BLOCKCHAIN_NETWORK", "mainnet")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 13, cfg.Earnings.CashbackDays)
	require.Equal(t, "mainnet", cfg.Blockchain.Network)
	require.True(t, cfg.IsProduction())
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := &Config{Timezone: "Not/AZone"}
	require.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = ""
	require.Equal(t, time.UTC, cfg.Location())
}
