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

// Package eventqueue implements the timed event queue that drives the
// refresh rate controller worker. It is a plain min-heap keyed by due
// time with insertion order as the tiebreak; the queue itself is not
// goroutine safe, the owning controller serializes access under its
// own lock.
package eventqueue

import (
	"container/heap"
	"fmt"
	"strings"
)

// TimedEvent is one scheduled piece of work. Action runs only on the
// controller worker goroutine, never on the producer that posted it.
type TimedEvent struct {
	Kind   Kind
	WhenNs int64
	Action func() error

	seq uint64
}

type eventHeap []*TimedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].WhenNs != h[j].WhenNs {
		return h[i].WhenNs < h[j].WhenNs
	}

	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*TimedEvent)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return ev
}

// Queue holds pending timed events ordered by due time.
type Queue struct {
	events  eventHeap
	nextSeq uint64
}

func New() *Queue {
	return &Queue{}
}

// Post schedules ev at its absolute WhenNs. Events sharing a due time
// run in posting order.
func (q *Queue) Post(ev *TimedEvent) {
	ev.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.events, ev)
}

// PostDelayed schedules an event delayNs after nowNs.
func (q *Queue) PostDelayed(kind Kind, nowNs, delayNs int64, action func() error) {
	q.Post(&TimedEvent{Kind: kind, WhenNs: nowNs + delayNs, Action: action})
}

// Drop removes every pending event whose kind contains all bits of
// mask, so Drop(KindControlMask) cancels the whole control family
// while Drop(KindRenderingTimeout) cancels just that kind. It returns
// the number of events removed.
func (q *Queue) Drop(mask Kind) int {
	kept := q.events[:0]
	dropped := 0

	for _, ev := range q.events {
		if ev.Kind&mask == mask {
			dropped++
			continue
		}

		kept = append(kept, ev)
	}

	for i := len(kept); i < len(q.events); i++ {
		q.events[i] = nil
	}

	q.events = kept
	if dropped > 0 {
		heap.Init(&q.events)
	}

	return dropped
}

// DropAll empties the queue.
func (q *Queue) DropAll() {
	q.events = q.events[:0]
}

// NextDueNs returns the due time of the earliest pending event.
func (q *Queue) NextDueNs() (int64, bool) {
	if len(q.events) == 0 {
		return 0, false
	}

	return q.events[0].WhenNs, true
}

// PopDue removes and returns the earliest event if it is due at nowNs.
func (q *Queue) PopDue(nowNs int64) (*TimedEvent, bool) {
	if len(q.events) == 0 || q.events[0].WhenNs > nowNs {
		return nil, false
	}

	return heap.Pop(&q.events).(*TimedEvent), true
}

func (q *Queue) Len() int {
	return len(q.events)
}

// Count returns how many pending events match mask, using the same
// containment rule as Drop.
func (q *Queue) Count(mask Kind) int {
	n := 0

	for _, ev := range q.events {
		if ev.Kind&mask == mask {
			n++
		}
	}

	return n
}

// Dump renders the pending events for debug output, in heap order.
func (q *Queue) Dump() string {
	var b strings.Builder

	fmt.Fprintf(&b, "event queue: %d pending\n", len(q.events))

	for _, ev := range q.events {
		fmt.Fprintf(&b, "  kind=%s when=%dns\n", ev.Kind, ev.WhenNs)
	}

	return b.String()
}
