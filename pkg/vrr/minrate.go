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
	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
)

// minRateAlignHeadsUpNs is how far ahead of an expected present the
// lock application is scheduled, so the panel reprograms on the frame
// boundary.
const minRateAlignHeadsUpNs = 2 * nsPerMillisecond

// SetFixedRefreshRateRange locks the panel to refresh at least
// minimumRefreshRateHz. A zero rate releases the lock. When
// maximumRefreshRateTimeoutNs is positive each present boosts the
// panel to the configuration maximum for that long before stepping
// back down to the minimum.
//
// When the active configuration cannot hold the requested minimum the
// request stays pending until a compatible configuration becomes
// active, bounded by a timeout.
func (c *Controller) SetFixedRefreshRateRange(minimumRefreshRateHz uint32, maximumRefreshRateTimeoutNs int64) error {
	c.mu.Lock()

	rate := max(1, int(minimumRefreshRateHz))

	// With the panel off there is nothing to program, and power-on
	// reconfigures the panel from scratch anyway.
	if c.powerMode == display.PowerModeInvalid || c.powerMode.IsOff() {
		c.mu.Unlock()
		return nil
	}

	// A request matching the pending or the applied state is a no-op;
	// reprogramming would only re-fire the listeners.
	if c.maximumRefreshRateTimeoutNs == maximumRefreshRateTimeoutNs {
		if pending := c.pendingMinimumRefreshRate; pending != nil && *pending == rate {
			c.mu.Unlock()
			return nil
		}

		if c.pendingMinimumRefreshRate == nil && c.minimumRefreshRate == rate {
			c.mu.Unlock()
			return nil
		}
	}

	c.maximumRefreshRateTimeoutNs = maximumRefreshRateTimeoutNs

	cfg, ok := c.configs[c.activeConfig]
	if rate == 1 || (ok && cfg.MinRefreshRateCompatible(rate)) {
		c.pendingMinimumRefreshRate = nil
		c.queue.Drop(eventqueue.KindMinRateWaitForConfigTimeout)
		c.applyFixedRefreshRateLocked(rate)
	} else {
		c.pendingMinimumRefreshRate = &rate

		c.queue.Drop(eventqueue.KindMinRateWaitForConfigTimeout)
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindMinRateWaitForConfigTimeout,
			WhenNs: c.clock.NowNs() + waitForConfigTimeoutNs,
			Action: c.onMinRateWaitForConfigTimeout,
		})
	}

	c.mu.Unlock()
	c.signal()

	return nil
}

func (c *Controller) minimumRefreshRateActiveLocked() bool {
	return c.minimumRefreshRate > 1 || c.pendingMinimumRefreshRate != nil
}

// applyFixedRefreshRateLocked programs the lock, or releases it when
// rate drops back to 1.
func (c *Controller) applyFixedRefreshRateLocked(rate int) {
	c.minimumRefreshRate = rate

	if rate > 1 {
		// The panel hardware owns the pacing while the lock is held;
		// software insertion stands down.
		c.presentTimeoutController = PresentTimeoutControllerHardware
		c.cancelPresentTimeoutLocked()

		// Engaging always lands on the minimum. With a boost window the
		// next present raises the panel to the maximum.
		command := c.refreshControlCommandLocked()
		command = display.SetBit(command, refreshCtrlFrameInsertionAutoModeBit)
		command = display.SetBitField(command, uint32(rate),
			refreshCtrlMinimumRefreshRateOffset, refreshCtrlMinimumRefreshRateMask)
		c.writeRefreshControlLocked(command)

		c.minRate = minRateAtMinimum
		c.stats.SetFixedRefreshRate(uint32(rate))
		c.commitRefreshRateLocked(rate)

		return
	}

	// Release: hand the pacing back to the default owner. Only the
	// software owner reprograms the register; a hardware owner keeps
	// auto mode untouched.
	c.presentTimeoutController = c.defaultPresentTimeoutController
	if c.presentTimeoutController == PresentTimeoutControllerSoftware {
		command := c.refreshControlCommandLocked()
		command = display.SetBitField(command, 0,
			refreshCtrlMinimumRefreshRateOffset, refreshCtrlMinimumRefreshRateMask)
		command = display.ClearBit(command, refreshCtrlFrameInsertionAutoModeBit)
		c.writeRefreshControlLocked(command)
	}

	c.minRate = minRateUnset
	c.queue.Drop(eventqueue.KindMinRateLockTimeout)
	c.queue.Drop(eventqueue.KindMinRateAlignWithPresent)
	c.stats.SetFixedRefreshRate(0)
	c.commitRefreshRateLocked(c.calculator.RefreshRate())
}

// enterMaximumRefreshRateLocked boosts the panel to the configuration
// maximum and arms the step-down timeout.
func (c *Controller) enterMaximumRefreshRateLocked(baseTimeNs int64) {
	maxRate := c.activeMaxFrameRateLocked()

	command := c.refreshControlCommandLocked()
	command = display.SetBit(command, refreshCtrlFrameInsertionAutoModeBit)
	command = display.SetBitField(command, uint32(maxRate),
		refreshCtrlMinimumRefreshRateOffset, refreshCtrlMinimumRefreshRateMask)
	c.writeRefreshControlLocked(command)

	c.minRate = minRateAtMaximum
	c.commitRefreshRateLocked(maxRate)

	c.queue.Drop(eventqueue.KindMinRateLockTimeout)
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindMinRateLockTimeout,
		WhenNs: baseTimeNs + c.maximumRefreshRateTimeoutNs,
		Action: c.onMinRateLockTimeout,
	})
}

// boostMinimumRefreshRateLocked extends the boost window for a present
// while the lock is held.
func (c *Controller) boostMinimumRefreshRateLocked(presentTimeNs int64) {
	maxRate := c.activeMaxFrameRateLocked()
	if maxRate == c.minimumRefreshRate {
		return
	}

	switch c.minRate {
	case minRateAtMinimum:
		c.enterMaximumRefreshRateLocked(presentTimeNs)
	case minRateTransitionToMinimum:
		// A present during the settle window restarts it.
		c.queue.Drop(eventqueue.KindMinRateLockTimeout)
		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindMinRateLockTimeout,
			WhenNs: presentTimeNs + c.minRateSettleDelayNsLocked(),
			Action: c.onMinRateLockTimeout,
		})
	case minRateAtMaximum:
		// The armed timeout keeps running from the boost start.
	default:
		c.log.Error().
			Str("state", c.minRate.String()).
			Msg("present boost in unexpected minimum refresh rate state")
	}
}

// minRateSettleDelayNsLocked is one frame at the minimum rate plus
// slack, the time the panel needs to settle on the lower rate.
func (c *Controller) minRateSettleDelayNsLocked() int64 {
	return display.NsPerSecond/int64(c.minimumRefreshRate) + nsPerMillisecond
}

// onMinRateLockTimeout steps the boost down in two stages: first into
// the settle window, then onto the locked minimum.
func (c *Controller) onMinRateLockTimeout() error {
	switch c.minRate {
	case minRateAtMaximum:
		c.minRate = minRateTransitionToMinimum

		c.queue.Post(&eventqueue.TimedEvent{
			Kind:   eventqueue.KindMinRateLockTimeout,
			WhenNs: c.clock.NowNs() + c.minRateSettleDelayNsLocked(),
			Action: c.onMinRateLockTimeout,
		})
	case minRateTransitionToMinimum:
		rate := c.minimumRefreshRate

		command := c.refreshControlCommandLocked()
		command = display.SetBit(command, refreshCtrlFrameInsertionAutoModeBit)
		command = display.SetBitField(command, uint32(rate),
			refreshCtrlMinimumRefreshRateOffset, refreshCtrlMinimumRefreshRateMask)
		c.writeRefreshControlLocked(command)

		c.minRate = minRateAtMinimum
		c.stats.SetFixedRefreshRate(uint32(rate))
		c.commitRefreshRateLocked(rate)
	default:
		c.log.Error().
			Str("state", c.minRate.String()).
			Msg("lock timeout in unexpected minimum refresh rate state")
	}

	return nil
}

// onMinRateAlignWithPresent applies a resolved pending request on the
// frame boundary.
func (c *Controller) onMinRateAlignWithPresent() error {
	if c.pendingMinimumRefreshRate == nil {
		return nil
	}

	rate := *c.pendingMinimumRefreshRate
	c.pendingMinimumRefreshRate = nil

	c.applyFixedRefreshRateLocked(rate)

	return nil
}

func (c *Controller) onMinRateWaitForConfigTimeout() error {
	if c.pendingMinimumRefreshRate != nil {
		c.log.Error().
			Int("rate", *c.pendingMinimumRefreshRate).
			Msg("no compatible configuration for the minimum refresh rate request")

		c.pendingMinimumRefreshRate = nil
	}

	return nil
}

// resolveMinimumRefreshRateForConfigLocked reconciles the lock with a
// configuration switch: a pending request compatible with the new
// configuration gets applied, an active boost is reprogrammed for the
// new maximum.
func (c *Controller) resolveMinimumRefreshRateForConfigLocked(cfg display.VrrConfig) {
	if req := c.pendingMinimumRefreshRate; req != nil {
		if !cfg.MinRefreshRateCompatible(*req) {
			return
		}

		c.queue.Drop(eventqueue.KindMinRateWaitForConfigTimeout)

		// Apply on the upcoming frame boundary when one is announced,
		// immediately otherwise.
		if expected := c.record.nextExpectedPresent; expected != nil {
			whenNs := expected.TimeNs - min(cfg.VsyncPeriodNs/2, minRateAlignHeadsUpNs)
			if whenNs <= c.clock.NowNs() {
				whenNs += cfg.VsyncPeriodNs
			}

			c.queue.Drop(eventqueue.KindMinRateAlignWithPresent)
			c.queue.Post(&eventqueue.TimedEvent{
				Kind:   eventqueue.KindMinRateAlignWithPresent,
				WhenNs: whenNs,
				Action: c.onMinRateAlignWithPresent,
			})

			return
		}

		rate := *req
		c.pendingMinimumRefreshRate = nil
		c.applyFixedRefreshRateLocked(rate)

		return
	}

	if c.minRate == minRateAtMaximum {
		// The boost ceiling moved with the configuration.
		c.enterMaximumRefreshRateLocked(c.clock.NowNs())
	}
}

// activeMaxFrameRateLocked is the highest frame rate of the active
// configuration.
func (c *Controller) activeMaxFrameRateLocked() int {
	cfg, ok := c.configs[c.activeConfig]
	if !ok {
		return c.opts.MaxFrameRate
	}

	return cfg.MaxFrameRate()
}
