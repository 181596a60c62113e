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

package vrr

import (
	"fmt"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
)

// PreSetPowerMode runs before the panel driver switches power mode.
// Entering doze hands refresh pacing to the panel hardware, since the
// controller cannot pace self-refresh while the host sleeps.
func (c *Controller) PreSetPowerMode(mode display.PowerMode) error {
	switch mode {
	case display.PowerModeOff, display.PowerModeNormal:
		return nil
	case display.PowerModeDoze, display.PowerModeDozeSuspend:
		c.mu.Lock()
		defer c.mu.Unlock()

		command := c.refreshControlCommandLocked()
		command = display.SetBit(command, refreshCtrlFrameInsertionAutoModeBit)
		c.writeRefreshControlLocked(command)

		c.presentTimeoutController = PresentTimeoutControllerHardware
		c.cancelPresentTimeoutLocked()

		return nil
	default:
		return fmt.Errorf("unknown power mode %d", mode)
	}
}

// PostSetPowerMode runs after the panel driver switched power mode and
// moves the state machine.
func (c *Controller) PostSetPowerMode(mode display.PowerMode) error {
	c.mu.Lock()

	from := c.powerMode
	if from == mode {
		c.mu.Unlock()
		return nil
	}

	switch mode {
	case display.PowerModeOff, display.PowerModeDoze, display.PowerModeDozeSuspend:
		c.state = StateDisable
		c.queue.Drop(eventqueue.KindControlMask)
		c.cancelPresentTimeoutLocked()
	case display.PowerModeNormal:
		if from.IsOff() || from == display.PowerModeDoze {
			// The lock keeps owning the pacing; otherwise the default
			// owner takes back over.
			if !c.minimumRefreshRateActiveLocked() {
				c.presentTimeoutController = c.defaultPresentTimeoutController
			}
		}

		c.state = StateRendering
		c.queue.Drop(eventqueue.KindRenderingTimeout)
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindRenderingTimeout,
			WhenNs: c.clock.NowNs() + c.renderingTimeoutNsLocked(),
			Action: c.onRenderingTimeout,
		})
	default:
		c.mu.Unlock()
		return fmt.Errorf("unknown power mode %d", mode)
	}

	c.powerMode = mode

	for _, l := range c.powerModeListeners {
		l.OnPowerStateChange(from, mode)
	}

	c.mu.Unlock()
	c.signal()

	return nil
}

// SetVrrConfigurations installs the panel configuration table and
// derives the valid refresh rate table of each entry.
func (c *Controller) SetVrrConfigurations(configs []display.VrrConfig) error {
	for _, cfg := range configs {
		if cfg.VsyncPeriodNs <= 0 || cfg.MinFrameIntervalNs <= 0 {
			return fmt.Errorf("config %d: non-positive timing", cfg.ID)
		}

		if cfg.FullySupported && cfg.NotifyExpectedPresent == nil {
			return fmt.Errorf("config %d: fully supported without expected present timing", cfg.ID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.configs = make(map[display.ConfigID]display.VrrConfig, len(configs))
	c.validRates = make(map[display.ConfigID][]int, len(configs))

	for _, cfg := range configs {
		c.configs[cfg.ID] = cfg
		c.validRates[cfg.ID] = generateValidRefreshRates(cfg)
	}

	return nil
}

// SetActiveConfiguration switches the controller to config id.
func (c *Controller) SetActiveConfiguration(id display.ConfigID) error {
	c.mu.Lock()

	cfg, ok := c.configs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown configuration %d", id)
	}

	c.activeConfig = id

	c.calculator.SetVrrConfigAttributes(cfg.VsyncPeriodNs, cfg.MinFrameIntervalNs)
	c.frameRateReporter.SetVrrConfigAttributes(cfg.VsyncPeriodNs, cfg.MinFrameIntervalNs)
	c.stats.SetActiveConfiguration(id, cfg.TeFrequency())

	c.resolveMinimumRefreshRateForConfigLocked(cfg)

	if c.state != StateDisable {
		c.state = StateRendering

		c.queue.Drop(eventqueue.KindRenderingTimeout)
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindRenderingTimeout,
			WhenNs: c.clock.NowNs() + c.renderingTimeoutNsLocked(),
			Action: c.onRenderingTimeout,
		})
	}

	c.mu.Unlock()
	c.signal()

	return nil
}
