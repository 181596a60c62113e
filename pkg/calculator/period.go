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

// PeriodPolicy selects how a measurement window is reduced to a rate.
type PeriodPolicy int

const (
	// PeriodPolicyAverage uses the mean vsync count over the window.
	PeriodPolicyAverage PeriodPolicy = iota
	// PeriodPolicyMajor uses the most frequent vsync count.
	PeriodPolicyMajor
)

// PeriodParams tunes the windowed measurement.
type PeriodParams struct {
	Policy          PeriodPolicy
	MeasurePeriodNs int64
	// ConfidencePercentage gates the estimate: the window must cover
	// at least this percentage of the period's vsyncs with presents.
	ConfidencePercentage int
	// AlwaysCallback fires the change callback on every measurement
	// even if the estimate did not move.
	AlwaysCallback bool
}

func DefaultPeriodParams() PeriodParams {
	return PeriodParams{
		Policy:               PeriodPolicyAverage,
		MeasurePeriodNs:      250_000_000,
		ConfidencePercentage: 50,
	}
}

// PeriodCalculator estimates the rate from a histogram of vsync
// intervals collected over a fixed measurement period. The measurement
// fires from a queue event, so the estimate trails presents by up to
// one period.
type PeriodCalculator struct {
	base

	queue  *eventqueue.Queue
	clock  display.Clock
	log    logger.Logger
	params PeriodParams

	histogram          map[int]int
	lastPresentTimeNs  int64
	lastRefreshRate    int
	numVsyncPerMeasure int
	lastMeasureTimeNs  int64
}

var _ RefreshRateCalculator = (*PeriodCalculator)(nil)

func NewPeriodCalculator(queue *eventqueue.Queue, clock display.Clock, params PeriodParams, log logger.Logger) *PeriodCalculator {
	c := &PeriodCalculator{
		base:              newBase("PeriodRefreshRateCalculator"),
		queue:             queue,
		clock:             clock,
		log:               log,
		params:            params,
		histogram:         make(map[int]int),
		lastPresentTimeNs: invalidPresentTimeNs,
		lastRefreshRate:   InvalidRefreshRate,
	}
	c.recomputeVsyncPerMeasure()

	c.lastMeasureTimeNs = clock.NowNs() + params.MeasurePeriodNs
	queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindPeriodMeasure,
		WhenNs: c.lastMeasureTimeNs,
		Action: c.onMeasure,
	})

	return c
}

func (c *PeriodCalculator) RefreshRate() int {
	return c.lastRefreshRate
}

func (c *PeriodCalculator) OnPowerStateChange(from, to display.PowerMode) {
	if to != display.PowerModeNormal {
		c.SetEnabled(false)
	} else {
		if from == display.PowerModeNormal {
			c.log.Error().Msg("disregard power state change notification by staying in current power state")
			return
		}

		c.SetEnabled(true)
	}

	c.powerMode = to
}

func (c *PeriodCalculator) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	if hasFlag(flags, display.FrameFlagPresentingWhenDoze) {
		return
	}

	if c.lastPresentTimeNs >= 0 {
		periodNs := presentTimeNs - c.lastPresentTimeNs
		if periodNs <= display.NsPerSecond {
			numVsync := max(1, c.durationToVsync(periodNs))
			c.histogram[numVsync]++
		}
	}

	c.lastPresentTimeNs = presentTimeNs
}

func (c *PeriodCalculator) SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs int64) {
	c.base.SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs)
	c.recomputeVsyncPerMeasure()
}

func (c *PeriodCalculator) Reset() {
	c.histogram = make(map[int]int)
	c.lastRefreshRate = InvalidRefreshRate
	c.lastPresentTimeNs = invalidPresentTimeNs
}

func (c *PeriodCalculator) SetEnabled(enabled bool) {
	if !enabled {
		c.queue.Drop(eventqueue.KindPeriodMeasure)
		return
	}

	c.lastMeasureTimeNs = c.clock.NowNs() + c.params.MeasurePeriodNs
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindPeriodMeasure,
		WhenNs: c.lastMeasureTimeNs,
		Action: c.onMeasure,
	})
}

func (c *PeriodCalculator) onMeasure() error {
	rate := InvalidRefreshRate
	totalPresent := 0
	totalVsync := 0
	maxOccurrence := 0
	majorVsync := 0

	for numVsync, count := range c.histogram {
		totalPresent += count
		totalVsync += numVsync * count

		if count > maxOccurrence {
			maxOccurrence = count
			majorVsync = numVsync
		}
	}

	if totalPresent > 0 && totalVsync*100 > c.numVsyncPerMeasure*c.params.ConfidencePercentage {
		if c.params.Policy == PeriodPolicyAverage {
			averageVsync := float64(totalVsync) / float64(totalPresent)
			rate = int(math.Round(float64(c.maxFrameRate) / averageVsync))
		} else {
			rate = int(display.RoundDivide(int64(c.maxFrameRate), int64(majorVsync)))
		}
	}

	c.histogram = make(map[int]int)

	rate = max(rate, 1)
	rate = min(rate, c.maxFrameRate)
	c.setNewRefreshRate(rate)

	c.lastMeasureTimeNs += c.params.MeasurePeriodNs
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindPeriodMeasure,
		WhenNs: c.lastMeasureTimeNs,
		Action: c.onMeasure,
	})

	return nil
}

func (c *PeriodCalculator) recomputeVsyncPerMeasure() {
	ratio := float64(c.params.MeasurePeriodNs) / float64(display.NsPerSecond)
	c.numVsyncPerMeasure = int(float64(c.maxFrameRate) * ratio)
}

func (c *PeriodCalculator) setNewRefreshRate(rate int) {
	if rate != c.lastRefreshRate || c.params.AlwaysCallback {
		c.lastRefreshRate = rate

		if c.callback != nil {
			c.callback(rate)
		}
	}
}
