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
	"fmt"
	"strings"

	"github.com/displaykit/vrrctl/pkg/display"
)

const historySize = 128

// ringBuffer keeps the most recent capacity items in arrival order.
type ringBuffer[T any] struct {
	items []T
	next  int
	full  bool
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	return &ringBuffer[T]{items: make([]T, capacity)}
}

func (r *ringBuffer[T]) Push(item T) {
	r.items[r.next] = item
	r.next++

	if r.next == len(r.items) {
		r.next = 0
		r.full = true
	}
}

func (r *ringBuffer[T]) Len() int {
	if r.full {
		return len(r.items)
	}

	return r.next
}

// Do calls fn for every retained item, oldest first.
func (r *ringBuffer[T]) Do(fn func(T)) {
	if r.full {
		for i := r.next; i < len(r.items); i++ {
			fn(r.items[i])
		}
	}

	for i := 0; i < r.next; i++ {
		fn(r.items[i])
	}
}

type vsyncKind int

const (
	vsyncKindVblank vsyncKind = iota
	vsyncKindReleaseFence
)

func (k vsyncKind) String() string {
	if k == vsyncKindVblank {
		return "vblank"
	}

	return "release_fence"
}

type vsyncRecord struct {
	Kind   vsyncKind
	TimeNs int64
}

type presentRecord struct {
	TimeNs int64
	Flags  display.PresentFrameFlag
}

// expectedPresent is the heads-up a producer gave about an upcoming
// frame.
type expectedPresent struct {
	TimeNs          int64
	FrameIntervalNs int64
}

// presentTimingRecord tracks the in-flight present handshake plus the
// recent present and vsync history for debug output.
type presentTimingRecord struct {
	// nextExpectedPresent holds a NotifyExpectedPresent heads-up until
	// the state machine consumes it.
	nextExpectedPresent *expectedPresent
	// pendingCurrentPresent is the SetExpectedPresentTime for the
	// present currently in flight.
	pendingCurrentPresent *expectedPresent

	presents *ringBuffer[presentRecord]
	vsyncs   *ringBuffer[vsyncRecord]
}

func newPresentTimingRecord() presentTimingRecord {
	return presentTimingRecord{
		presents: newRingBuffer[presentRecord](historySize),
		vsyncs:   newRingBuffer[vsyncRecord](historySize),
	}
}

func (r *presentTimingRecord) dump(b *strings.Builder) {
	fmt.Fprintf(b, "present history: %d entries\n", r.presents.Len())
	r.presents.Do(func(p presentRecord) {
		fmt.Fprintf(b, "  present time=%dns flags=%#x\n", p.TimeNs, p.Flags)
	})

	fmt.Fprintf(b, "vsync history: %d entries\n", r.vsyncs.Len())
	r.vsyncs.Do(func(v vsyncRecord) {
		fmt.Fprintf(b, "  vsync kind=%s time=%dns\n", v.Kind, v.TimeNs)
	})
}
