package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_DefaultsApplyWhenUnset(t *testing.T) {
	clearEnv(t, "APP_ENV", "APP_PORT", "HOLD_DURATION_MINUTES", "ADMISSION_LOCK_TIMEOUT_SECONDS",
		"ADMISSION_LOCK_WAIT_SECONDS", "TXN_MAX_ATTEMPTS", "DEADLOCK_BACKOFF_MS_MIN",
		"DEADLOCK_BACKOFF_MS_MAX", "STOCK_CACHE_TTL_SECONDS", "SWEEP_PERIOD_SECONDS",
		"ORDER_WAIT_ATTEMPTS", "ORDER_WAIT_SLEEP_MS", "MAX_HOLD_QTY")
	os.Setenv("DB_USER", "root")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_PORT", "3306")
	os.Setenv("DB_NAME", "checkout")
	t.Cleanup(func() {
		os.Unsetenv("DB_USER")
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_PORT")
		os.Unsetenv("DB_NAME")
	})

	cfg := Load()

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.HoldDuration)
	assert.Equal(t, 10*time.Second, cfg.AdmissionLockTimeout)
	assert.Equal(t, 5*time.Second, cfg.AdmissionLockWait)
	assert.Equal(t, 5, cfg.TxnMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.DeadlockBackoffMin)
	assert.Equal(t, 50*time.Millisecond, cfg.DeadlockBackoffMax)
	assert.Equal(t, 5*time.Second, cfg.StockCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.SweepPeriod)
	assert.Equal(t, 3, cfg.OrderWaitAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.OrderWaitSleep)
	assert.Equal(t, uint32(100), cfg.MaxHoldQty)
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	os.Setenv("DB_USER", "root")
	os.Setenv("DB_HOST", "localhost")
	os.Setenv("DB_PORT", "3306")
	os.Setenv("DB_NAME", "checkout")
	os.Setenv("MAX_HOLD_QTY", "25")
	os.Setenv("HOLD_DURATION_MINUTES", "5")
	t.Cleanup(func() {
		os.Unsetenv("DB_USER")
		os.Unsetenv("DB_HOST")
		os.Unsetenv("DB_PORT")
		os.Unsetenv("DB_NAME")
		os.Unsetenv("MAX_HOLD_QTY")
		os.Unsetenv("HOLD_DURATION_MINUTES")
	})

	cfg := Load()

	assert.Equal(t, uint32(25), cfg.MaxHoldQty)
	assert.Equal(t, 5*time.Minute, cfg.HoldDuration)
}
