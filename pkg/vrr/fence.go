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

import "errors"

// ErrFencePending reports that a fence has not signaled yet.
var ErrFencePending = errors.New("present fence not signaled")

// Fence is the completion fence handed over with a present. The
// controller queries it lazily, one present later, so SignalTimeNs must
// not block; return ErrFencePending while the hardware is still
// working. The controller takes ownership and closes the fence.
type Fence interface {
	SignalTimeNs() (int64, error)
	Close() error
}

type signaledFence struct {
	timeNs int64
}

// NewSignaledFence returns a fence that signaled at timeNs. Useful for
// tooling and tests that replay recorded present streams.
func NewSignaledFence(timeNs int64) Fence {
	return &signaledFence{timeNs: timeNs}
}

func (f *signaledFence) SignalTimeNs() (int64, error) { return f.timeNs, nil }

func (f *signaledFence) Close() error { return nil }
