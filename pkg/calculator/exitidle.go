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

package calculator

import (
	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
	"github.com/displaykit/vrrctl/pkg/logger"
)

// ExitIdleParams tunes idle exit detection.
type ExitIdleParams struct {
	// IdleCriteriaTimeNs is the present gap after which the display
	// counts as idle.
	IdleCriteriaTimeNs int64
	// MaxValidTimeNs bounds how long the burst estimate stays valid.
	MaxValidTimeNs int64
}

func DefaultExitIdleParams() ExitIdleParams {
	return ExitIdleParams{
		IdleCriteriaTimeNs: display.NsPerSecond,
		MaxValidTimeNs:     250_000_000,
	}
}

// ExitIdleCalculator requests a short burst at the maximum frame rate
// when the first present arrives after an idle gap, hiding the ramp-up
// latency of the slower estimators.
type ExitIdleCalculator struct {
	base

	queue  *eventqueue.Queue
	log    logger.Logger
	params ExitIdleParams

	lastPresentTimeNs int64
	lastRefreshRate   int
}

var _ RefreshRateCalculator = (*ExitIdleCalculator)(nil)

func NewExitIdleCalculator(queue *eventqueue.Queue, params ExitIdleParams, log logger.Logger) *ExitIdleCalculator {
	return &ExitIdleCalculator{
		base:              newBase("ExitIdleRefreshRateCalculator"),
		queue:             queue,
		log:               log,
		params:            params,
		lastPresentTimeNs: invalidPresentTimeNs,
		lastRefreshRate:   InvalidRefreshRate,
	}
}

func (c *ExitIdleCalculator) RefreshRate() int {
	return c.lastRefreshRate
}

func (c *ExitIdleCalculator) OnPowerStateChange(from, to display.PowerMode) {
	if to != display.PowerModeNormal {
		c.SetEnabled(false)
		return
	}

	if from == display.PowerModeNormal {
		c.log.Error().Msg("disregard power state change notification by staying in current power state")
		return
	}

	c.SetEnabled(true)
}

func (c *ExitIdleCalculator) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	if hasFlag(flags, display.FrameFlagPresentingWhenDoze) {
		return
	}

	if c.lastPresentTimeNs == invalidPresentTimeNs ||
		presentTimeNs > c.lastPresentTimeNs+c.params.IdleCriteriaTimeNs {
		c.setNewRefreshRate(c.maxFrameRate)

		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindExitIdleTimeout,
			WhenNs: presentTimeNs + c.params.MaxValidTimeNs,
			Action: c.invalidate,
		})
	}

	c.lastPresentTimeNs = presentTimeNs
}

func (c *ExitIdleCalculator) Reset() {
	c.lastPresentTimeNs = invalidPresentTimeNs
	c.setNewRefreshRate(InvalidRefreshRate)
}

func (c *ExitIdleCalculator) SetEnabled(enabled bool) {
	if !enabled {
		c.queue.Drop(eventqueue.KindExitIdleTimeout)
		return
	}

	c.Reset()
}

func (c *ExitIdleCalculator) invalidate() error {
	c.setNewRefreshRate(InvalidRefreshRate)
	return nil
}

func (c *ExitIdleCalculator) setNewRefreshRate(rate int) {
	if rate == c.lastRefreshRate {
		return
	}

	c.lastRefreshRate = rate
	if c.callback != nil {
		c.callback(rate)
	}
}
