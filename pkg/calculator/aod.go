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

const (
	aodFrameInsertionCount   = 8
	aodIdleRefreshRate       = 1
	aodActiveRefreshRate     = 30
	aodActiveFrameIntervalNs = display.NsPerSecond / aodActiveRefreshRate
	aodActiveDurationNs      = aodActiveFrameIntervalNs * aodFrameInsertionCount

	aodSkipUpdateFrames         = 3
	aodActiveToIdleTransitionNs = aodActiveFrameIntervalNs * aodSkipUpdateFrames
)

type aodState int

const (
	aodStateIdle aodState = iota
	aodStateActive
	// aodStateActiveToIdle holds the rate at idle for a short window
	// even if new frames arrive, so a steady doze present stream does
	// not ping-pong between 1Hz and 30Hz.
	aodStateActiveToIdle
)

// AodCalculator drives the refresh rate while the panel is dozing: a
// present bumps the rate to 30Hz for a fixed frame insertion burst,
// after which the rate falls back to 1Hz.
type AodCalculator struct {
	base

	queue *eventqueue.Queue
	clock display.Clock

	state           aodState
	lastRefreshRate int
	inDoze          bool
}

var _ RefreshRateCalculator = (*AodCalculator)(nil)

func NewAodCalculator(queue *eventqueue.Queue, clock display.Clock) *AodCalculator {
	return &AodCalculator{
		base:            newBase("AodRefreshRateCalculator"),
		queue:           queue,
		clock:           clock,
		state:           aodStateIdle,
		lastRefreshRate: aodIdleRefreshRate,
	}
}

func (c *AodCalculator) RefreshRate() int {
	if !c.inDoze {
		return InvalidRefreshRate
	}

	return c.lastRefreshRate
}

func (c *AodCalculator) OnPresent(_ int64, flags display.PresentFrameFlag) {
	if hasFlag(flags, display.FrameFlagPresentingWhenDoze) {
		c.inDoze = true

		if c.state == aodStateActiveToIdle {
			return
		}

		c.setNewRefreshRate(aodActiveRefreshRate)
		c.queue.Drop(eventqueue.KindAodTimeout)
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindAodTimeout,
			WhenNs: c.clock.NowNs() + aodActiveDurationNs,
			Action: c.advanceState,
		})

		if c.state == aodStateIdle {
			_ = c.advanceState()
		}

		return
	}

	if c.inDoze {
		// Leaving doze for normal mode.
		c.Reset()
		c.inDoze = false
	}
}

func (c *AodCalculator) Reset() {
	c.setNewRefreshRate(InvalidRefreshRate)
	c.queue.Drop(eventqueue.KindAodTimeout)
	c.state = aodStateIdle
}

func (c *AodCalculator) advanceState() error {
	switch c.state {
	case aodStateIdle:
		c.state = aodStateActive
	case aodStateActive:
		c.setNewRefreshRate(aodIdleRefreshRate)
		c.state = aodStateActiveToIdle
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindAodTimeout,
			WhenNs: c.clock.NowNs() + aodActiveToIdleTransitionNs,
			Action: c.advanceState,
		})
	default:
		c.state = aodStateIdle
	}

	return nil
}

func (c *AodCalculator) setNewRefreshRate(rate int) {
	if rate == c.lastRefreshRate {
		return
	}

	c.lastRefreshRate = rate
	if c.callback != nil {
		c.callback(rate)
	}
}
