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

// Fraction is an exact rational, used for fps values derived from a
// panel TE divider so 240/7 style rates compare without float error.
type Fraction struct {
	Num int
	Den int
}

// Round returns the fraction's value rounded half up. A zero
// denominator yields zero.
func (f Fraction) Round() int {
	if f.Den == 0 {
		return 0
	}

	return int(RoundDivide(int64(f.Num), int64(f.Den)))
}

// Equals reports exact rational equality by cross multiplication.
func (f Fraction) Equals(other Fraction) bool {
	return int64(f.Num)*int64(other.Den) == int64(other.Num)*int64(f.Den)
}

// Less orders fractions by value, cross multiplied to stay exact.
func (f Fraction) Less(other Fraction) bool {
	return int64(f.Num)*int64(other.Den) < int64(other.Num)*int64(f.Den)
}
