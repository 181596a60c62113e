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

const NsPerSecond int64 = 1_000_000_000

// RoundDivide divides dividend by divisor rounding half up. Non-positive
// divisors and negative dividends yield zero.
func RoundDivide(dividend, divisor int64) int64 {
	if dividend < 0 || divisor <= 0 {
		return 0
	}

	return (dividend + divisor/2) / divisor
}

// DurationNsToFreq converts a period in nanoseconds to a rate in Hz,
// rounding half up.
func DurationNsToFreq(durationNs int64) int64 {
	return RoundDivide(NsPerSecond, durationNs)
}

// FreqToDurationNs converts a rate in Hz to a period in nanoseconds,
// rounding half up.
func FreqToDurationNs(freqHz int64) int64 {
	return RoundDivide(NsPerSecond, freqHz)
}
