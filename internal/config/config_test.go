package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 1000, cfg.BuyRateLimit)
	assert.Equal(t, time.Second, cfg.BuyRateWindow)
	assert.Equal(t, 5, cfg.BuyMaxQuantity)
	assert.Equal(t, "Asia/Shanghai", cfg.BucketTimezone.String())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BUY_RATE_LIMIT", "5")
	t.Setenv("BUY_MAX_QUANTITY", "2")
	t.Setenv("BUCKET_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.BuyRateLimit)
	assert.Equal(t, 2, cfg.BuyMaxQuantity)
	assert.Equal(t, time.UTC, cfg.BucketTimezone)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad rate limit", func(t *testing.T) {
		t.Setenv("BUY_RATE_LIMIT", "0")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("bad timezone", func(t *testing.T) {
		t.Setenv("BUCKET_TIMEZONE", "Mars/Olympus")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("non-numeric quantity", func(t *testing.T) {
		t.Setenv("BUY_MAX_QUANTITY", "many")
		_, err := Load()
		assert.Error(t, err)
	})
}
