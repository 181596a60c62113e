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
)

const defaultInstantMaxValidTimeNs int64 = display.NsPerSecond

// InstantCalculator derives the rate from the interval between the two
// most recent presents. The estimate goes stale after maxValidTimeNs
// without a present.
type InstantCalculator struct {
	base

	queue *eventqueue.Queue
	clock display.Clock

	maxValidTimeNs    int64
	lastPresentTimeNs int64
	lastRefreshRate   int
}

var _ RefreshRateCalculator = (*InstantCalculator)(nil)

func NewInstantCalculator(queue *eventqueue.Queue, clock display.Clock) *InstantCalculator {
	return NewInstantCalculatorWithTimeout(queue, clock, defaultInstantMaxValidTimeNs)
}

func NewInstantCalculatorWithTimeout(queue *eventqueue.Queue, clock display.Clock, maxValidTimeNs int64) *InstantCalculator {
	return &InstantCalculator{
		base:              newBase("InstantRefreshRateCalculator"),
		queue:             queue,
		clock:             clock,
		maxValidTimeNs:    maxValidTimeNs,
		lastPresentTimeNs: invalidPresentTimeNs,
		lastRefreshRate:   InvalidRefreshRate,
	}
}

func (c *InstantCalculator) RefreshRate() int {
	return c.lastRefreshRate
}

func (c *InstantCalculator) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	if hasFlag(flags, display.FrameFlagPresentingWhenDoze) {
		return
	}

	if c.lastPresentTimeNs != invalidPresentTimeNs {
		if presentTimeNs <= c.lastPresentTimeNs {
			// Disregard incoming frames that are out of sequence.
			return
		}

		if c.isOutdated(presentTimeNs) {
			c.Reset()
		} else {
			numVsync := c.durationToVsync(presentTimeNs - c.lastPresentTimeNs)
			numVsync = max(1, min(c.maxFrameRate, numVsync))
			rate := max(1, int(display.RoundDivide(int64(c.maxFrameRate), int64(numVsync))))
			c.setNewRefreshRate(rate)
		}
	}

	c.lastPresentTimeNs = presentTimeNs

	c.queue.Drop(eventqueue.KindInstantTimeout)
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindInstantTimeout,
		WhenNs: presentTimeNs + c.maxValidTimeNs,
		Action: c.expire,
	})
}

func (c *InstantCalculator) Reset() {
	c.lastPresentTimeNs = invalidPresentTimeNs
	c.setNewRefreshRate(InvalidRefreshRate)
}

func (c *InstantCalculator) isOutdated(timeNs int64) bool {
	return c.lastPresentTimeNs == invalidPresentTimeNs ||
		timeNs-c.lastPresentTimeNs > c.maxValidTimeNs
}

func (c *InstantCalculator) expire() error {
	if c.isOutdated(c.clock.NowNs()) {
		c.Reset()
	}

	return nil
}

func (c *InstantCalculator) setNewRefreshRate(rate int) {
	if rate == c.lastRefreshRate {
		return
	}

	c.lastRefreshRate = rate
	if c.callback != nil {
		c.callback(rate)
	}
}
