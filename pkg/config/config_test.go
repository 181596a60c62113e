package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaykit/vrrctl/pkg/display"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Modes = []ModeConfig{
		{
			ID:                 1,
			Width:              1080,
			Height:             2400,
			VsyncPeriodNs:      4_166_667,
			MinFrameIntervalNs: 8_333_333,
			FullySupported:     true,
			HeadsUpNs:          30_000_000,
			TimeoutNs:          1_000_000_000,
		},
		{
			ID:                 2,
			Width:              1080,
			Height:             2400,
			VsyncPeriodNs:      8_333_333,
			MinFrameIntervalNs: 8_333_333,
		},
	}

	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vrrd.toml")

	require.NoError(t, os.WriteFile(path, []byte(`
[panel]
sysfs_path = "/sys/class/drm/card0-DSI-1"

[[mode]]
id = 1
width = 1080
height = 2400
vsync_period_ns = 4166667
min_frame_interval_ns = 8333333
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "primary", cfg.Panel.Name)
	assert.Equal(t, 120, cfg.Panel.MaxFrameRate)
	assert.Equal(t, 60, cfg.Polling.IntervalSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Residency.PresentPattern)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateModeIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Modes[1].ID = cfg.Modes[0].ID

	_, err := NormalizeAndValidate(cfg)
	assert.ErrorContains(t, err, "duplicate id")
}

func TestValidateRejectsRelativePaths(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.DBPath = "residency.db"

	_, err := NormalizeAndValidate(cfg)
	assert.ErrorContains(t, err, "absolute path")
}

func TestValidateRejectsFullySupportedWithoutTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Modes[0].TimeoutNs = 0

	_, err := NormalizeAndValidate(cfg)
	assert.ErrorContains(t, err, "timeout_ns")
}

func TestValidateRejectsNoModes(t *testing.T) {
	cfg := DefaultConfig()

	_, err := NormalizeAndValidate(cfg)
	assert.ErrorContains(t, err, "at least one")
}

func TestValidateRejectsPollingOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Polling.IntervalSeconds = 0

	_, err := NormalizeAndValidate(cfg)
	assert.ErrorContains(t, err, "interval_seconds")
}

func TestVrrConfigs(t *testing.T) {
	cfg := validConfig()

	configs := cfg.VrrConfigs()
	require.Len(t, configs, 2)

	assert.Equal(t, display.ConfigID(1), configs[0].ID)
	assert.True(t, configs[0].FullySupported)
	require.NotNil(t, configs[0].NotifyExpectedPresent)
	assert.Equal(t, int64(30_000_000), configs[0].NotifyExpectedPresent.HeadsUpNs)

	assert.Nil(t, configs[1].NotifyExpectedPresent)
}
