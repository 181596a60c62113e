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
	"math"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
	"github.com/displaykit/vrrctl/pkg/logger"
)

// VideoParams tunes video cadence detection.
type VideoParams struct {
	// Delta is the tolerated Hz jitter between consecutive period
	// measurements that still counts as the same cadence.
	Delta int
	// WindowSize bounds the averaging history.
	WindowSize int
	// MinStableRuns is how many consecutive in-tolerance measurements
	// are needed before the cadence is reported.
	MinStableRuns int

	PeriodParams PeriodParams

	MinInterestedFrameRate int
	MaxInterestedFrameRate int
}

func DefaultVideoParams() VideoParams {
	periodParams := DefaultPeriodParams()
	periodParams.AlwaysCallback = true
	periodParams.ConfidencePercentage = 95

	return VideoParams{
		Delta:                  5,
		WindowSize:             5,
		MinStableRuns:          3,
		PeriodParams:           periodParams,
		MinInterestedFrameRate: 1,
		MaxInterestedFrameRate: 120,
	}
}

// VideoCalculator detects steady video cadence. It feeds YUV frames to
// an internal period worker and reports the averaged rate once the
// measurement is stable; any non-video frame resets the detection.
type VideoCalculator struct {
	base

	worker *PeriodCalculator
	params VideoParams

	lastVideoFrameRate  int
	lastPeriodFrameRate int
	stableRuns          int
	history             []int
}

var _ RefreshRateCalculator = (*VideoCalculator)(nil)

func NewVideoCalculator(queue *eventqueue.Queue, clock display.Clock, params VideoParams, log logger.Logger) *VideoCalculator {
	c := &VideoCalculator{
		base:                newBase("VideoFrameRateCalculator"),
		params:              params,
		lastVideoFrameRate:  InvalidRefreshRate,
		lastPeriodFrameRate: InvalidRefreshRate,
	}

	c.params.MaxInterestedFrameRate = min(c.maxFrameRate, c.params.MaxInterestedFrameRate)
	c.params.MinInterestedFrameRate = max(1, c.params.MinInterestedFrameRate)

	c.worker = NewPeriodCalculator(queue, clock, c.params.PeriodParams, log)
	c.worker.name = "PeriodRefreshRateCalculator-Worker"
	c.worker.RegisterRefreshRateChangeCallback(c.onReportRefreshRate)

	return c
}

func (c *VideoCalculator) RefreshRate() int {
	if c.lastVideoFrameRate >= c.params.MinInterestedFrameRate &&
		c.lastVideoFrameRate <= c.params.MaxInterestedFrameRate {
		return c.lastVideoFrameRate
	}

	return InvalidRefreshRate
}

func (c *VideoCalculator) OnPowerStateChange(from, to display.PowerMode) {
	c.worker.OnPowerStateChange(from, to)
	c.powerMode = to
}

func (c *VideoCalculator) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	if hasFlag(flags, display.FrameFlagPresentingWhenDoze) {
		return
	}

	if hasFlag(flags, display.FrameFlagYuv) {
		c.worker.OnPresent(presentTimeNs, flags)
		return
	}

	c.Reset()
}

func (c *VideoCalculator) SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs int64) {
	c.base.SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs)
	c.worker.SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs)
}

func (c *VideoCalculator) Reset() {
	c.setNewRefreshRate(InvalidRefreshRate)
	c.lastPeriodFrameRate = InvalidRefreshRate
	c.stableRuns = 0
	c.history = c.history[:0]
}

func (c *VideoCalculator) SetEnabled(enabled bool) {
	c.worker.SetEnabled(enabled)
}

func (c *VideoCalculator) onReportRefreshRate(rate int) {
	if c.lastPeriodFrameRate != InvalidRefreshRate &&
		abs(c.lastPeriodFrameRate-rate) <= c.params.Delta &&
		c.lastPeriodFrameRate >= c.params.MinInterestedFrameRate &&
		c.lastPeriodFrameRate <= c.params.MaxInterestedFrameRate {
		c.stableRuns++

		c.history = append(c.history, rate)
		if len(c.history) > c.params.WindowSize {
			c.history = c.history[len(c.history)-c.params.WindowSize:]
		}

		if c.stableRuns >= c.params.MinStableRuns {
			sum := 0
			for _, r := range c.history {
				sum += r
			}

			c.lastPeriodFrameRate = int(math.Round(float64(sum) / float64(len(c.history))))
			c.setNewRefreshRate(c.lastPeriodFrameRate)
		}

		return
	}

	c.lastPeriodFrameRate = rate
	c.stableRuns = 1
	c.setNewRefreshRate(InvalidRefreshRate)
	c.history = append(c.history[:0], rate)
}

func (c *VideoCalculator) setNewRefreshRate(rate int) {
	if rate == c.lastVideoFrameRate {
		return
	}

	c.lastVideoFrameRate = rate

	if c.callback != nil &&
		c.lastVideoFrameRate >= c.params.MinInterestedFrameRate &&
		c.lastVideoFrameRate <= c.params.MaxInterestedFrameRate {
		c.callback(c.lastVideoFrameRate)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
