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

import "github.com/displaykit/vrrctl/pkg/display"

const (
	defaultMinValidRefreshRate = 1
	defaultMaxValidRefreshRate = 120
)

// CombinedCalculator arbitrates between an ordered list of delegate
// calculators: the first delegate reporting a rate inside the valid
// range wins. Delegate updates arriving during a present fan-out are
// deferred until every delegate has seen the frame, so arbitration
// always runs over a consistent snapshot.
type CombinedCalculator struct {
	base

	calculators []RefreshRateCalculator

	minValidRefreshRate int
	maxValidRefreshRate int

	lastRefreshRate int

	inPresent        bool
	hasPendingChange bool
}

var _ RefreshRateCalculator = (*CombinedCalculator)(nil)

func NewCombinedCalculator(calculators []RefreshRateCalculator) *CombinedCalculator {
	return NewCombinedCalculatorWithRange(calculators, defaultMinValidRefreshRate, defaultMaxValidRefreshRate)
}

func NewCombinedCalculatorWithRange(calculators []RefreshRateCalculator, minValid, maxValid int) *CombinedCalculator {
	c := &CombinedCalculator{
		base:                newBase("CombinedRefreshRateCalculator"),
		calculators:         calculators,
		minValidRefreshRate: minValid,
		maxValidRefreshRate: maxValid,
		lastRefreshRate:     InvalidRefreshRate,
	}

	for _, calc := range c.calculators {
		calc.RegisterRefreshRateChangeCallback(c.onDelegateRefreshRateChanged)
	}

	return c
}

func (c *CombinedCalculator) RefreshRate() int {
	return c.lastRefreshRate
}

func (c *CombinedCalculator) OnPowerStateChange(from, to display.PowerMode) {
	for _, calc := range c.calculators {
		calc.OnPowerStateChange(from, to)
	}

	c.powerMode = to
}

func (c *CombinedCalculator) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	c.hasPendingChange = false

	c.inPresent = true
	for _, calc := range c.calculators {
		calc.OnPresent(presentTimeNs, flags)
	}
	c.inPresent = false

	if c.hasPendingChange {
		c.updateRefreshRate()
	}
}

func (c *CombinedCalculator) SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs int64) {
	c.base.SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs)

	for _, calc := range c.calculators {
		calc.SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs)
	}
}

func (c *CombinedCalculator) Reset() {
	for _, calc := range c.calculators {
		calc.Reset()
	}

	c.setNewRefreshRate(InvalidRefreshRate)
	c.hasPendingChange = false
}

func (c *CombinedCalculator) SetEnabled(enabled bool) {
	for _, calc := range c.calculators {
		calc.SetEnabled(enabled)
	}
}

func (c *CombinedCalculator) onDelegateRefreshRateChanged(int) {
	if c.inPresent {
		c.hasPendingChange = true
		return
	}

	c.updateRefreshRate()
}

func (c *CombinedCalculator) updateRefreshRate() {
	rate := InvalidRefreshRate

	for _, calc := range c.calculators {
		if r := calc.RefreshRate(); r >= c.minValidRefreshRate && r <= c.maxValidRefreshRate {
			rate = r
			break
		}
	}

	c.setNewRefreshRate(rate)
}

func (c *CombinedCalculator) setNewRefreshRate(rate int) {
	if rate == c.lastRefreshRate {
		return
	}

	c.lastRefreshRate = rate
	if c.callback != nil {
		c.callback(rate)
	}
}
