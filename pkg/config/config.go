/*
 * Copyright 2025 The vrrctl Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the vrrd daemon configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
	"github.com/displaykit/vrrctl/pkg/residency"
)

const (
	minPollIntervalSeconds = 1
	maxPollIntervalSeconds = 3600
)

type Config struct {
	Logging   logger.Config   `toml:"logging"`
	Panel     PanelConfig     `toml:"panel"`
	Modes     []ModeConfig    `toml:"mode"`
	Residency ResidencyConfig `toml:"residency"`
	Storage   StorageConfig   `toml:"storage"`
	Polling   PollingConfig   `toml:"polling"`
}

// PanelConfig locates and bounds the panel.
type PanelConfig struct {
	Name           string `toml:"name"`
	SysfsPath      string `toml:"sysfs_path"`
	MaxFrameRate   int    `toml:"max_frame_rate"`
	MaxTeFrequency int    `toml:"max_te_frequency"`
}

// ModeConfig is one panel display configuration.
type ModeConfig struct {
	ID                 int32 `toml:"id"`
	Width              int   `toml:"width"`
	Height             int   `toml:"height"`
	VsyncPeriodNs      int64 `toml:"vsync_period_ns"`
	MinFrameIntervalNs int64 `toml:"min_frame_interval_ns"`
	FullySupported     bool  `toml:"fully_supported"`
	HeadsUpNs          int64 `toml:"heads_up_ns"`
	TimeoutNs          int64 `toml:"timeout_ns"`
}

// ResidencyConfig overrides the power-stats bucket name patterns.
type ResidencyConfig struct {
	PresentPattern    string `toml:"present_pattern"`
	NonPresentPattern string `toml:"non_present_pattern"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type PollingConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: *logger.DefaultConfig(),
		Panel: PanelConfig{
			Name:           "primary",
			SysfsPath:      "/sys/class/drm/card0-DSI-1",
			MaxFrameRate:   120,
			MaxTeFrequency: 240,
		},
		Residency: ResidencyConfig{
			PresentPattern:    residency.PresentResidencyPattern,
			NonPresentPattern: residency.NonPresentResidencyPattern,
		},
		Storage: StorageConfig{
			DBPath: "/var/lib/vrrd/residency.db",
		},
		Polling: PollingConfig{
			IntervalSeconds: 60,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return NormalizeAndValidate(cfg)
}

// NormalizeAndValidate cleans paths and checks ranges. The input is not
// modified.
func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	var err error

	sanitized.Panel.SysfsPath, err = sanitizePath("panel.sysfs_path", sanitized.Panel.SysfsPath)
	if err != nil {
		return nil, err
	}

	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	if sanitized.Panel.MaxFrameRate <= 0 {
		return nil, fmt.Errorf("panel.max_frame_rate must be positive, got %d", sanitized.Panel.MaxFrameRate)
	}

	if sanitized.Panel.MaxTeFrequency < sanitized.Panel.MaxFrameRate {
		return nil, fmt.Errorf("panel.max_te_frequency %d below panel.max_frame_rate %d",
			sanitized.Panel.MaxTeFrequency, sanitized.Panel.MaxFrameRate)
	}

	if len(sanitized.Modes) == 0 {
		return nil, fmt.Errorf("at least one [[mode]] is required")
	}

	seen := make(map[int32]struct{}, len(sanitized.Modes))

	for i, mode := range sanitized.Modes {
		if _, dup := seen[mode.ID]; dup {
			return nil, fmt.Errorf("mode[%d]: duplicate id %d", i, mode.ID)
		}

		seen[mode.ID] = struct{}{}

		if mode.Width <= 0 || mode.Height <= 0 {
			return nil, fmt.Errorf("mode[%d]: non-positive dimensions", i)
		}

		if mode.VsyncPeriodNs <= 0 || mode.MinFrameIntervalNs <= 0 {
			return nil, fmt.Errorf("mode[%d]: non-positive timing", i)
		}

		if mode.MinFrameIntervalNs < mode.VsyncPeriodNs {
			return nil, fmt.Errorf("mode[%d]: min_frame_interval_ns below vsync_period_ns", i)
		}

		if mode.FullySupported && mode.TimeoutNs <= 0 {
			return nil, fmt.Errorf("mode[%d]: fully supported mode needs timeout_ns", i)
		}
	}

	if sanitized.Residency.PresentPattern == "" || sanitized.Residency.NonPresentPattern == "" {
		return nil, fmt.Errorf("residency patterns must not be empty")
	}

	if v := sanitized.Polling.IntervalSeconds; v < minPollIntervalSeconds || v > maxPollIntervalSeconds {
		return nil, fmt.Errorf("polling.interval_seconds must be between %d and %d, got %d",
			minPollIntervalSeconds, maxPollIntervalSeconds, v)
	}

	return &sanitized, nil
}

// VrrConfigs converts the mode table into the controller's form.
func (c *Config) VrrConfigs() []display.VrrConfig {
	configs := make([]display.VrrConfig, 0, len(c.Modes))

	for _, mode := range c.Modes {
		cfg := display.VrrConfig{
			ID:                 display.ConfigID(mode.ID),
			Width:              mode.Width,
			Height:             mode.Height,
			FullySupported:     mode.FullySupported,
			VsyncPeriodNs:      mode.VsyncPeriodNs,
			MinFrameIntervalNs: mode.MinFrameIntervalNs,
		}

		if mode.HeadsUpNs > 0 || mode.TimeoutNs > 0 {
			cfg.NotifyExpectedPresent = &display.NotifyExpectedPresentConfig{
				HeadsUpNs: mode.HeadsUpNs,
				TimeoutNs: mode.TimeoutNs,
			}
		}

		configs = append(configs, cfg)
	}

	return configs
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}

	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}

	return cleaned, nil
}
