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

package residency

import (
	"fmt"

	"github.com/displaykit/vrrctl/pkg/display"
)

// PowerStatsProfile is the coarse bucket key the telemetry consumer
// sees. Many fine-grained refresh profiles collapse onto one of these:
// the vsync cadence becomes an fps value when it matches the allow
// listed fraction table, Fps 0 when it does not, and Fps -1 for the
// power-off bucket.
type PowerStatsProfile struct {
	Width          int
	Height         int
	Fps            int
	PowerMode      display.PowerMode
	BrightnessMode display.BrightnessMode
	Source         display.RefreshSource
}

func (p PowerStatsProfile) IsOff() bool {
	return p.PowerMode.IsOff()
}

// Key collapses every off-like profile onto the canonical off bucket.
func (p PowerStatsProfile) Key() PowerStatsProfile {
	if p.IsOff() {
		return OffPowerStatsProfile()
	}

	return p
}

func (p PowerStatsProfile) String() string {
	return fmt.Sprintf("width = %d, height = %d, fps = %d, power mode = %s, brightness = %d, source = %d",
		p.Width, p.Height, p.Fps, p.PowerMode, p.BrightnessMode, p.Source)
}

// OffPowerStatsProfile returns the canonical power-off bucket key.
func OffPowerStatsProfile() PowerStatsProfile {
	return PowerStatsProfile{
		Fps:            -1,
		PowerMode:      display.PowerModeOff,
		BrightnessMode: display.BrightnessModeInvalid,
		Source:         display.RefreshSourceActivePresent,
	}
}

// State is one externally visible residency bucket.
type State struct {
	ID   int
	Name string
}

// StateResidency is the accumulated residency of one bucket. Counts
// carry forward across calls; times are reported in milliseconds.
type StateResidency struct {
	ID                   int
	TotalStateEntryCount uint64
	LastEntryTimestampMs int64
	TotalTimeInStateMs   int64
}
