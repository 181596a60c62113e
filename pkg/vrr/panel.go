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
	"sort"

	"github.com/displaykit/vrrctl/pkg/display"
)

// Sysfs attribute names under the panel device directory.
const (
	RefreshControlNodeName      = "refresh_ctrl"
	FrameRateNodeName           = "frame_rate"
	ExpectedPresentTimeNodeName = "expected_present_time_ns"
	FrameIntervalNodeName       = "frame_interval_ns"

	// refreshControlEnabled is what a panel that accepts refresh
	// control commands reports when the attribute is read back.
	refreshControlEnabled = "Enabled"
)

// refresh_ctrl register layout. The low fields carry the frame
// insertion count and the minimum refresh rate; the top bits select the
// operating mode and survive read-modify-write cycles as panel state.
const (
	refreshCtrlFrameInsertionFrameCountOffset = 0
	refreshCtrlFrameInsertionFrameCountBits   = 7
	refreshCtrlFrameInsertionFrameCountMask   = ((1 << refreshCtrlFrameInsertionFrameCountBits) - 1) << refreshCtrlFrameInsertionFrameCountOffset

	refreshCtrlMinimumRefreshRateOffset = 7
	refreshCtrlMinimumRefreshRateBits   = 8
	refreshCtrlMinimumRefreshRateMask   = ((1 << refreshCtrlMinimumRefreshRateBits) - 1) << refreshCtrlMinimumRefreshRateOffset

	refreshCtrlMrrV1OverV2Bit            = 30
	refreshCtrlFrameInsertionAutoModeBit = 31

	refreshCtrlStateBitsMask = (1 << refreshCtrlMrrV1OverV2Bit) |
		(1 << refreshCtrlFrameInsertionAutoModeBit) |
		refreshCtrlMinimumRefreshRateMask
)

// generateValidRefreshRates enumerates every rate the panel can hold
// under cfg: the TE frequency divided by each admissible vsync
// multiple, deduplicated and sorted ascending.
func generateValidRefreshRates(cfg display.VrrConfig) []int {
	if cfg.VsyncPeriodNs <= 0 || cfg.MinFrameIntervalNs <= 0 {
		return nil
	}

	te := int64(cfg.TeFrequency())
	minVsync := display.RoundDivide(cfg.MinFrameIntervalNs, cfg.VsyncPeriodNs)

	if minVsync < 1 {
		minVsync = 1
	}

	seen := make(map[int]struct{})

	var rates []int

	for vsyncs := minVsync; vsyncs <= te; vsyncs++ {
		rate := int(display.RoundDivide(te, vsyncs))
		if rate < 1 {
			rate = 1
		}

		if _, ok := seen[rate]; ok {
			continue
		}

		seen[rate] = struct{}{}
		rates = append(rates, rate)
	}

	sort.Ints(rates)

	return rates
}

// snapToValidRefreshRate rounds rate up to the nearest rate the panel
// can hold. Rates above the table clamp to the maximum.
func snapToValidRefreshRate(rates []int, rate int) int {
	if len(rates) == 0 {
		return rate
	}

	idx := sort.SearchInts(rates, rate)
	if idx == len(rates) {
		return rates[len(rates)-1]
	}

	return rates[idx]
}
