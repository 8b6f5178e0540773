package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowguard/internal/integrity"
	"github.com/roach88/flowguard/internal/service"
	"github.com/roach88/flowguard/internal/stuck"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, integrity.LevelStrict, cfg.Enforcement)
	assert.False(t, cfg.Production())
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load("testdata/flowguard.yaml", "")
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, integrity.LevelWarn, cfg.Enforcement)
	assert.Equal(t, 10*time.Second, cfg.Policy.GatewayTimeout)
	assert.Equal(t, 3, cfg.Policy.MaxReschedules)
	assert.Equal(t, int64(5000), cfg.Policy.AutoRefundLimit)
	assert.Equal(t, []service.Tier{
		{MinNotice: 48 * time.Hour, Percent: 100},
		{MinNotice: 24 * time.Hour, Percent: 75},
		{MinNotice: 6 * time.Hour, Percent: 25},
	}, cfg.Policy.CancellationTiers)

	// Unset fields keep their defaults.
	assert.Equal(t, 20*time.Minute, cfg.StuckThresholds.PaymentInitiated)
	assert.Equal(t, stuck.DefaultThresholds().SessionApproved, cfg.StuckThresholds.SessionApproved)
	assert.Equal(t, 30*time.Second, cfg.Jobs.NoShowInterval)
	assert.Equal(t, 5*time.Minute, cfg.Jobs.StuckInterval)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "enforcment: strict\n"},
		{"unknown level", "enforcement: lenient\n"},
		{"bad duration", "policy:\n  gateway_timeout: 15 seconds\n"},
		{"percent out of range", "policy:\n  cancellation_tiers:\n    - min_notice: 1h\n      percent: 120\n"},
		{"negative limit", "policy:\n  auto_refund_limit: -5\n"},
		{"unknown threshold", "stuck_thresholds:\n  video_active: 1h\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"FLOWGUARD_WEBHOOK_SECRET=from-env-file\nFLOWGUARD_ENFORCEMENT=off\nFLOWGUARD_AUTO_REFUND_LIMIT=250\n",
	), 0o600))
	t.Setenv(EnvKeyEnforcement, "strict")

	cfg, err := Load("testdata/flowguard.yaml", envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env-file", cfg.WebhookSecret)
	assert.Equal(t, int64(250), cfg.Policy.AutoRefundLimit)
	assert.Equal(t, integrity.LevelStrict, cfg.Enforcement, "process environment wins over the env file")
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv(EnvKeyEnforcement, "lenient")
	_, err := Load("", "")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"production without webhook secret", func(c *Config) {
			c.Environment = EnvProduction
			c.AdminSigningKey = "k"
		}},
		{"production without signing key", func(c *Config) {
			c.Environment = EnvProduction
			c.WebhookSecret = "s"
		}},
		{"unsorted tiers", func(c *Config) {
			c.Policy.CancellationTiers = []service.Tier{{MinNotice: time.Hour, Percent: 50}, {MinNotice: 24 * time.Hour, Percent: 100}}
		}},
		{"unknown environment", func(c *Config) { c.Environment = "qa" }},
		{"zero gateway timeout", func(c *Config) { c.Policy.GatewayTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Environment = EnvProduction
	cfg.WebhookSecret = "s"
	cfg.AdminSigningKey = "k"
	assert.NoError(t, cfg.Validate())
}
