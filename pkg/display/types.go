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

// Package display holds the domain model shared by the refresh rate
// controller, the statistics provider and the residency bucketing:
// power and brightness modes, refresh sources, panel configurations
// and the small numeric helpers the rest of the tree leans on.
package display

// PowerMode mirrors the panel power states reported by the composer.
type PowerMode int

const (
	PowerModeInvalid     PowerMode = -1
	PowerModeOff         PowerMode = 0
	PowerModeDoze        PowerMode = 1
	PowerModeNormal      PowerMode = 2
	PowerModeDozeSuspend PowerMode = 3
)

// IsOff reports whether the panel emits no refreshes in this mode.
// DozeSuspend keeps the panel image but stops self-refresh, so for
// accounting purposes it collapses onto Off.
func (m PowerMode) IsOff() bool {
	return m == PowerModeOff || m == PowerModeDozeSuspend
}

func (m PowerMode) String() string {
	switch m {
	case PowerModeOff:
		return "off"
	case PowerModeDoze:
		return "doze"
	case PowerModeNormal:
		return "normal"
	case PowerModeDozeSuspend:
		return "doze_suspend"
	default:
		return "invalid"
	}
}

// ActivePowerModes are the modes in which the panel refreshes and
// residency buckets are enumerated.
var ActivePowerModes = []PowerMode{PowerModeDoze, PowerModeNormal}

// BrightnessMode distinguishes the normal and high brightness panel
// operating points.
type BrightnessMode int

const (
	BrightnessModeInvalid BrightnessMode = -1
	BrightnessModeNormal  BrightnessMode = 0
	BrightnessModeHigh    BrightnessMode = 1
)

var BrightnessModes = []BrightnessMode{BrightnessModeNormal, BrightnessModeHigh}

// RefreshSource is a bitmask describing what caused a panel refresh.
type RefreshSource uint32

const (
	RefreshSourceActivePresent  RefreshSource = 1 << 0
	RefreshSourceIdlePresent    RefreshSource = 1 << 1
	RefreshSourceFrameInsertion RefreshSource = 1 << 2
	RefreshSourceBrightness     RefreshSource = 1 << 3

	// RefreshSourcePresentMask covers refreshes driven by a frame
	// from the client; the rest are panel-internal.
	RefreshSourcePresentMask    = RefreshSourceActivePresent | RefreshSourceIdlePresent
	RefreshSourceNonPresentMask = RefreshSourceFrameInsertion | RefreshSourceBrightness
)

func (s RefreshSource) IsPresent() bool {
	return s&RefreshSourcePresentMask != 0
}

// RefreshSources enumerates the individual source bits in bucket order.
var RefreshSources = []RefreshSource{
	RefreshSourceActivePresent,
	RefreshSourceIdlePresent,
	RefreshSourceFrameInsertion,
	RefreshSourceBrightness,
}

// PresentFrameFlag carries per-frame hints alongside a present.
type PresentFrameFlag uint32

const (
	// FrameFlagIndicatorLayerOnly marks presents that only update the
	// refresh rate indicator overlay; calculators ignore them.
	FrameFlagIndicatorLayerOnly PresentFrameFlag = 1 << 0
	// FrameFlagYuv marks frames whose visible layers are video.
	FrameFlagYuv PresentFrameFlag = 1 << 1
	// FrameFlagPresentingWhenDoze marks frames presented while dozing.
	FrameFlagPresentingWhenDoze PresentFrameFlag = 1 << 2
)

// ConfigID identifies a panel display configuration.
type ConfigID int32

// InvalidConfigID is used before any configuration is active and in
// the collapsed power-off accounting key.
const InvalidConfigID ConfigID = -1
