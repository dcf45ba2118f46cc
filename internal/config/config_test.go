package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAutomationConfigDefaults(t *testing.T) {
	cfg := LoadAutomationConfig()
	assert.Equal(t, 30, cfg.InactiveAfterDays)
	assert.Equal(t, 7, cfg.RewardWaitDays)
	assert.Equal(t, 7*24*time.Hour, cfg.RewardDedupWindow)
	assert.Equal(t, 90*24*time.Hour, cfg.LogRetention)
	assert.Equal(t, time.Minute, cfg.LockTTL)
}

func TestLoadModerationConfigOverrides(t *testing.T) {
	t.Setenv("BULK_MAX_VISITS", "50")
	t.Setenv("MODERATION_WRITE_TIMEOUT", "3s")
	t.Setenv("QUARANTINE_DAILY_CAP", "not-a-number")

	cfg := LoadModerationConfig()
	assert.Equal(t, 50, cfg.BulkMaxVisits)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 1, cfg.DefaultDailyCap)
}

func TestLoadRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_EVERY", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 1, cfg.RefillTokens)
	assert.Equal(t, 2*time.Second, cfg.RefillInterval)
	assert.Equal(t, 10*time.Second, cfg.TTL)
}

func TestEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "off")
	assert.False(t, envBool("X_FLAG", true))
	t.Setenv("X_FLAG", "garbage")
	assert.True(t, envBool("X_FLAG", true))
}
