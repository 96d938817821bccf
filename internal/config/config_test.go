package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MAX_BRUSHES", "")
	t.Setenv("VERIFY_ORDERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Conversion.MaxEntryCount())
	assert.Equal(t, PolicyStrict, cfg.Conversion.BatchPolicy)
	assert.True(t, cfg.Marketplace.VerifyOrders)
	assert.Equal(t, BackendDisk, cfg.Staging.Backend)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("MAX_BRUSHES", "50")
	t.Setenv("ENTRY_MULTIPLIER", "3")
	t.Setenv("VERIFY_ORDERS", "false")
	t.Setenv("BATCH_POLICY", "BEST_EFFORT")
	t.Setenv("PROCESS_TIMEOUT", "5s")
	t.Setenv("STAGING_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 150, cfg.Conversion.MaxEntryCount())
	assert.False(t, cfg.Marketplace.VerifyOrders)
	assert.Equal(t, PolicyBestEffort, cfg.Conversion.BatchPolicy)
	assert.Equal(t, 5*time.Second, cfg.Conversion.ProcessTimeout)
	assert.Equal(t, BackendMemory, cfg.Staging.Backend)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("MAX_ARCHIVES", "ten")
	t.Setenv("VERIFY_ORDERS", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Conversion.MaxArchives)
	assert.True(t, cfg.Marketplace.VerifyOrders)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown policy", func(c *Config) { c.Conversion.BatchPolicy = "lenient" }, "BATCH_POLICY"},
		{"unknown backend", func(c *Config) { c.Staging.Backend = "s3" }, "STAGING_BACKEND"},
		{"zero workers", func(c *Config) { c.Conversion.Workers = 0 }, "WORKERS"},
		{"zero multiplier", func(c *Config) { c.Conversion.EntryMultiplier = 0 }, "ENTRY_MULTIPLIER"},
		{"negative min dimension", func(c *Config) { c.Conversion.MinDimension = -1 }, "MIN_IMAGE_DIMENSION"},
		{"verify without url", func(c *Config) {
			c.Marketplace.VerifyOrders = true
			c.Marketplace.BaseURL = ""
		}, "ETSY_API_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
