package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Venue.Name = "trader"
	cfg.Venue.Password = "hunter2"
	cfg.Engine.Contract = "MESU6"
	return cfg
}

func TestValidateDefaultsNeedCredentialsAndContract(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue: name")
	assert.Contains(t, err.Error(), "engine: contract")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	cfg.Engine.Timeframes = nil
	cfg.Orderbook.Iceberg.ConsistencyThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "timeframe")
	assert.Contains(t, err.Error(), "consistency_threshold")
}

func TestValidateOptionalSectionsOnlyWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Bucket = ""
	assert.NoError(t, cfg.Validate(), "disabled s3 section is not validated")

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FUTURESBOT_ENGINE_CONTRACT", "MNQU6")
	t.Setenv("FUTURESBOT_ENGINE_TIMEFRAMES", "30s, 1m,5m")
	t.Setenv("FUTURESBOT_ORDERBOOK_PRUNE_INTERVAL", "30s")
	t.Setenv("FUTURESBOT_REDIS_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "MNQU6", cfg.Engine.Contract)
	assert.Equal(t, []string{"30s", "1m", "5m"}, cfg.Engine.Timeframes)
	assert.Equal(t, 30*time.Second, cfg.Orderbook.PruneInterval.Duration)
	assert.True(t, cfg.Redis.Enabled)
}
