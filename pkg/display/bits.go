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

// SetBit returns value with the given bit set.
func SetBit(value uint32, bit uint) uint32 {
	return value | (1 << bit)
}

// ClearBit returns value with the given bit cleared.
func ClearBit(value uint32, bit uint) uint32 {
	return value &^ (1 << bit)
}

// SetBitField replaces the bits selected by mask with field shifted to
// offset. Field bits falling outside the mask are discarded.
func SetBitField(value, field uint32, offset uint, mask uint32) uint32 {
	return (value &^ mask) | ((field << offset) & mask)
}
