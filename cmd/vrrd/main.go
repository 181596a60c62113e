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

// vrrd runs the variable refresh rate controller against a panel sysfs
// directory and periodically persists the residency accounting.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/displaykit/vrrctl/pkg/config"
	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/filenode"
	"github.com/displaykit/vrrctl/pkg/logger"
	"github.com/displaykit/vrrctl/pkg/residency"
	"github.com/displaykit/vrrctl/pkg/storage"
	"github.com/displaykit/vrrctl/pkg/vrr"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/vrrd/vrrd.toml", "Path to vrrd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	vrrdLogger, err := logger.NewComponent("vrrd", &cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	sessionID := uuid.NewString()

	vrrdLogger.Info().
		Str("session", sessionID).
		Str("panel", cfg.Panel.Name).
		Str("sysfs", cfg.Panel.SysfsPath).
		Msg("starting vrrd")

	registry := filenode.NewRegistry(vrrdLogger)
	defer func() { _ = registry.Close() }()

	node := registry.Node(cfg.Panel.SysfsPath)

	controller := vrr.NewController(vrr.Options{
		PanelName:      cfg.Panel.Name,
		MaxFrameRate:   cfg.Panel.MaxFrameRate,
		MaxTeFrequency: cfg.Panel.MaxTeFrequency,
	}, node, display.NewClock(), vrrdLogger)
	defer func() { _ = controller.Close() }()

	vrrConfigs := cfg.VrrConfigs()

	if err := controller.SetVrrConfigurations(vrrConfigs); err != nil {
		return err
	}

	controller.SetEnabled(true)

	if err := controller.PostSetPowerMode(display.PowerModeNormal); err != nil {
		return err
	}

	if err := controller.SetActiveConfiguration(vrrConfigs[0].ID); err != nil {
		return err
	}

	provider := residency.NewProviderWithPatterns(controller.Statistics(), vrrConfigs,
		cfg.Residency.PresentPattern, cfg.Residency.NonPresentPattern, vrrdLogger)

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.InsertStates(sessionID, provider.States()); err != nil {
		return fmt.Errorf("record state table: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(cfg.Polling.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			vrrdLogger.Info().Str("session", sessionID).Msg("shutting down")
			return nil
		case update := <-controller.DebugChannel():
			vrrdLogger.Debug().
				Int("rate_hz", update.RefreshRateHz).
				Int64("time_ns", update.TimeNs).
				Msg("refresh rate changed")
		case <-ticker.C:
			snapshot := provider.GetStateResidency()

			if err := db.InsertSnapshot(sessionID, time.Now().UnixMilli(), snapshot); err != nil {
				vrrdLogger.Error().Err(err).Msg("residency snapshot insert failed")
			}
		}
	}
}
