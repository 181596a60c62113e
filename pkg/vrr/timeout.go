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
	"slices"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
)

// SetPresentTimeoutController selects who refreshes the panel when the
// client stops presenting. Switching owners rewrites the auto mode bit
// immediately in normal power; in doze the hardware always owns the
// pacing, and while a minimum refresh rate lock is active the lock
// keeps it.
func (c *Controller) SetPresentTimeoutController(controller PresentTimeoutController) error {
	if controller != PresentTimeoutControllerSoftware && controller != PresentTimeoutControllerHardware {
		return fmt.Errorf("invalid present timeout controller %d", controller)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.defaultPresentTimeoutController = controller

	if c.powerMode != display.PowerModeNormal || c.minimumRefreshRateActiveLocked() {
		return nil
	}

	command := c.refreshControlCommandLocked()

	if controller == PresentTimeoutControllerHardware {
		command = display.SetBit(command, refreshCtrlFrameInsertionAutoModeBit)
		c.cancelPresentTimeoutLocked()
	} else {
		command = display.ClearBit(command, refreshCtrlFrameInsertionAutoModeBit)
	}

	c.writeRefreshControlLocked(command)
	c.presentTimeoutController = controller

	return nil
}

// SetPresentTimeoutParameters overrides the software frame insertion
// plan: timeoutNs from the expected present to the first insertion,
// then the schedule phases. A negative timeoutNs restores the default
// single-insertion behavior. An override with an empty schedule
// disables software insertion entirely.
func (c *Controller) SetPresentTimeoutParameters(timeoutNs int64, schedule []TimeoutPhase) error {
	for _, phase := range schedule {
		if phase.Count <= 0 || phase.IntervalNs <= 0 {
			return fmt.Errorf("invalid timeout phase %+v", phase)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if timeoutNs < 0 {
		c.timeoutOverride = nil
		return nil
	}

	c.timeoutOverride = &presentTimeoutOverride{
		timeoutNs: timeoutNs,
		schedule:  slices.Clone(schedule),
	}

	return nil
}

// shouldHandlePresentTimeoutLocked reports whether software frame
// insertion is armed after a present.
func (c *Controller) shouldHandlePresentTimeoutLocked() bool {
	if c.presentTimeoutController != PresentTimeoutControllerSoftware {
		return false
	}

	if c.timeoutOverride != nil && len(c.timeoutOverride.schedule) == 0 {
		return false
	}

	return c.powerMode == display.PowerModeNormal
}

// armPresentTimeoutLocked schedules the first frame insertion relative
// to the present that just landed.
func (c *Controller) armPresentTimeoutLocked(presentTimeNs int64) {
	c.cancelPresentTimeoutLocked()

	timeoutNs := defaultPresentTimeoutNs
	if c.timeoutOverride != nil {
		timeoutNs = c.timeoutOverride.timeoutNs
	}

	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindVendorPresentTimeout,
		WhenNs: presentTimeNs + timeoutNs,
		Action: c.onPresentTimeout,
	})
}

func (c *Controller) cancelPresentTimeoutLocked() {
	c.queue.Drop(eventqueue.KindVendorPresentTimeout)
	c.timeoutTasks = nil
	c.timeoutTaskIndex = 0
}

// onPresentTimeout performs one software frame insertion and chains
// the next one per the vendor schedule.
func (c *Controller) onPresentTimeout() error {
	if c.state == StateDisable || c.powerMode != display.PowerModeNormal {
		c.cancelPresentTimeoutLocked()
		return nil
	}

	if c.timeoutTasks == nil {
		c.timeoutTasks = c.expandTimeoutScheduleLocked(c.clock.NowNs())
		c.timeoutTaskIndex = 0
	}

	c.handlePresentTimeoutLocked()

	if c.timeoutTaskIndex < len(c.timeoutTasks) {
		whenNs := c.timeoutTasks[c.timeoutTaskIndex]
		c.timeoutTaskIndex++

		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindVendorPresentTimeout,
			WhenNs: whenNs,
			Action: c.onPresentTimeout,
		})
	}

	return nil
}

// expandTimeoutScheduleLocked turns the phase schedule into absolute
// insertion times following the first insertion at baseNs.
func (c *Controller) expandTimeoutScheduleLocked(baseNs int64) []int64 {
	if c.timeoutOverride == nil {
		return []int64{}
	}

	var tasks []int64

	offset := int64(0)

	for _, phase := range c.timeoutOverride.schedule {
		for i := 0; i < phase.Count; i++ {
			offset += phase.IntervalNs
			tasks = append(tasks, baseNs+offset)
		}
	}

	return tasks
}

// handlePresentTimeoutLocked refreshes the panel once by commanding a
// single inserted frame, and accounts the refresh.
func (c *Controller) handlePresentTimeoutLocked() {
	command := c.refreshControlCommandLocked()
	command = display.ClearBit(command, refreshCtrlFrameInsertionAutoModeBit)
	command = display.SetBitField(command, 1,
		refreshCtrlFrameInsertionFrameCountOffset, refreshCtrlFrameInsertionFrameCountMask)
	c.writeRefreshControlLocked(command)

	now := c.clock.NowNs()

	c.frameRateReporter.OnPresent(now, 0)
	c.stats.OnNonPresentRefresh(now, display.RefreshSourceFrameInsertion)
}
