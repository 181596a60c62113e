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

package statistics

import (
	"fmt"

	"github.com/displaykit/vrrctl/pkg/display"
)

// DisplayStatus is the configuration part of a statistics key.
type DisplayStatus struct {
	ConfigID       display.ConfigID
	PowerMode      display.PowerMode
	BrightnessMode display.BrightnessMode
}

func (s DisplayStatus) IsOff() bool {
	return s.PowerMode.IsOff()
}

func (s DisplayStatus) String() string {
	return fmt.Sprintf("id = %d, power mode = %s, brightness = %d",
		s.ConfigID, s.PowerMode, s.BrightnessMode)
}

// RefreshProfile keys the statistics table: a display status plus the
// refresh cadence expressed as the vsync count between refreshes and
// the source of the refresh. NumVsync < 0 is the power-off sentinel.
type RefreshProfile struct {
	Status   DisplayStatus
	NumVsync int
	Source   display.RefreshSource
}

func (p RefreshProfile) IsOff() bool {
	return p.Status.IsOff()
}

// Key collapses every off-like profile onto the single canonical
// power-off key, so accounting survives doze-suspend vs off
// distinctions and whatever config was active when the panel blanked.
func (p RefreshProfile) Key() RefreshProfile {
	if p.IsOff() {
		return OffProfile()
	}

	return p
}

func (p RefreshProfile) String() string {
	source := "nonpresent"
	if p.Source.IsPresent() {
		source = "present"
	}

	return fmt.Sprintf("%s, numVsync = %d, refresh source = %s", p.Status, p.NumVsync, source)
}

// OffProfile returns the canonical power-off key.
func OffProfile() RefreshProfile {
	return RefreshProfile{
		Status: DisplayStatus{
			ConfigID:       display.InvalidConfigID,
			PowerMode:      display.PowerModeOff,
			BrightnessMode: display.BrightnessModeInvalid,
		},
		NumVsync: -1,
		Source:   display.RefreshSourceActivePresent,
	}
}

// RefreshRecord is the accumulated value for one profile.
type RefreshRecord struct {
	Count             uint64
	AccumulatedTimeNs uint64
	LastTimestampNs   int64
	Updated           bool
}

// Add folds another record into this one. The operation commutes, so
// records split across snapshots merge to the same totals regardless
// of order.
func (r *RefreshRecord) Add(other RefreshRecord) {
	r.Count += other.Count
	r.AccumulatedTimeNs += other.AccumulatedTimeNs
	r.LastTimestampNs = max(r.LastTimestampNs, other.LastTimestampNs)
	r.Updated = true
}

func (r RefreshRecord) String() string {
	return fmt.Sprintf("count = %d, accumulated ms = %d, last timestamp ns = %d",
		r.Count, r.AccumulatedTimeNs/1_000_000, r.LastTimestampNs)
}

// Statistics is a snapshot of the refresh accounting table.
type Statistics map[RefreshProfile]RefreshRecord
