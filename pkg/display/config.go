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

package display

// NotifyExpectedPresentConfig describes how far ahead the client warns
// the panel of an upcoming present and how long the panel keeps the
// warning armed.
type NotifyExpectedPresentConfig struct {
	HeadsUpNs int64
	TimeoutNs int64
}

// VrrConfig is one panel display configuration as the controller sees
// it. VsyncPeriodNs is the TE period; MinFrameIntervalNs bounds how
// fast the client may present.
type VrrConfig struct {
	ID                    ConfigID
	Width                 int
	Height                int
	FullySupported        bool
	VsyncPeriodNs         int64
	MinFrameIntervalNs    int64
	NotifyExpectedPresent *NotifyExpectedPresentConfig
}

// TeFrequency returns the panel TE rate in Hz.
func (c VrrConfig) TeFrequency() int {
	return int(DurationNsToFreq(c.VsyncPeriodNs))
}

// MaxFrameRate returns the highest frame rate the configuration
// admits, in Hz.
func (c VrrConfig) MaxFrameRate() int {
	return int(DurationNsToFreq(c.MinFrameIntervalNs))
}

// MinRefreshRateCompatible reports whether a minimum refresh rate
// lock at rateHz can be honored under this configuration. The panel
// holds a pinned rate only when every TE pulse can carry a frame, so
// the TE frequency must equal the maximum frame rate.
func (c VrrConfig) MinRefreshRateCompatible(rateHz int) bool {
	if rateHz <= 0 || rateHz > c.MaxFrameRate() {
		return false
	}

	return c.TeFrequency() == c.MaxFrameRate()
}
