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

import "time"

// Clock abstracts monotonic time so schedulers can be tested without
// sleeping. NowNs values from one clock are comparable with each other
// and with the timestamps producers pass in.
type Clock interface {
	NowNs() int64
	Timer(d time.Duration) Timer
}

// Timer abstracts time.Timer for testing.
type Timer interface {
	Chan() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type realClock struct {
	base time.Time
}

// NewClock returns a Clock backed by the runtime monotonic clock.
// NowNs is nanoseconds since the clock was created.
func NewClock() Clock {
	return &realClock{base: time.Now()}
}

func (c *realClock) NowNs() int64 {
	return time.Since(c.base).Nanoseconds()
}

func (c *realClock) Timer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (t *realTimer) Chan() <-chan time.Time { return t.t.C }

func (t *realTimer) Stop() bool { return t.t.Stop() }

func (t *realTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }
