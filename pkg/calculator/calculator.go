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

// Package calculator implements the refresh rate estimators feeding
// the controller: a set of independent heuristics over the present
// stream plus a combiner that arbitrates between them. Estimates are
// in Hz; InvalidRefreshRate means the estimator has no opinion.
//
// Calculators are not goroutine safe. They run under the owning
// controller's lock, and the timeout events they schedule run on the
// controller worker which holds the same lock.
package calculator

import (
	"github.com/displaykit/vrrctl/pkg/display"
)

const (
	// InvalidRefreshRate is returned when a calculator cannot
	// estimate a rate.
	InvalidRefreshRate = -1

	invalidPresentTimeNs int64 = -1

	defaultMaxFrameRate = 120
)

// RefreshRateCalculator estimates the desired panel refresh rate from
// the present stream.
type RefreshRateCalculator interface {
	Name() string

	// RefreshRate returns the current estimate in Hz, or
	// InvalidRefreshRate.
	RefreshRate() int

	// OnPresent feeds one presented frame.
	OnPresent(presentTimeNs int64, flags display.PresentFrameFlag)

	OnPowerStateChange(from, to display.PowerMode)

	// SetVrrConfigAttributes updates the timing attributes of the
	// active display configuration.
	SetVrrConfigAttributes(vsyncPeriodNs, minFrameIntervalNs int64)

	// RegisterRefreshRateChangeCallback installs the estimate change
	// callback. Callbacks fire only when the estimate changes, except
	// where a calculator is explicitly configured to always call back.
	RegisterRefreshRateChangeCallback(cb func(refreshRateHz int))

	SetEnabled(enabled bool)

	Reset()
}

// base carries the state every calculator shares.
type base struct {
	name               string
	maxFrameRate       int
	minFrameIntervalNs int64
	powerMode          display.PowerMode
	callback           func(int)
}

func newBase(name string) base {
	return base{
		name:               name,
		maxFrameRate:       defaultMaxFrameRate,
		minFrameIntervalNs: display.FreqToDurationNs(defaultMaxFrameRate),
		powerMode:          display.PowerModeInvalid,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) OnPowerStateChange(_, to display.PowerMode) {
	b.powerMode = to
}

func (b *base) SetVrrConfigAttributes(_, minFrameIntervalNs int64) {
	if minFrameIntervalNs <= 0 {
		return
	}

	b.minFrameIntervalNs = minFrameIntervalNs
	b.maxFrameRate = int(display.DurationNsToFreq(minFrameIntervalNs))
}

func (b *base) RegisterRefreshRateChangeCallback(cb func(int)) {
	b.callback = cb
}

func (b *base) SetEnabled(bool) {}

// durationToVsync converts a frame interval to a vsync count under the
// current configuration.
func (b *base) durationToVsync(durationNs int64) int {
	return int(display.RoundDivide(durationNs, b.minFrameIntervalNs))
}

func hasFlag(flags, want display.PresentFrameFlag) bool {
	return flags&want != 0
}
