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
	"errors"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
)

// NotifyExpectedPresent warns the panel that a present is coming at
// timestampNs with the given cadence, so it can hold off self-refresh
// decisions until the frame lands.
func (c *Controller) NotifyExpectedPresent(timestampNs, frameIntervalNs int64) {
	c.mu.Lock()

	c.record.nextExpectedPresent = &expectedPresent{
		TimeNs:          timestampNs,
		FrameIntervalNs: frameIntervalNs,
	}

	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindNotifyExpectedPresentHeadsUp,
		WhenNs: c.clock.NowNs(),
		Action: c.onExpectedPresentHeadsUp,
	})

	c.mu.Unlock()

	// The panel side of the heads-up goes straight to sysfs; the state
	// machine part runs on the worker.
	if err := c.node.WriteInt(ExpectedPresentTimeNodeName, timestampNs); err != nil {
		c.log.Debug().Err(err).Msg("expected present time write failed")
	}

	if err := c.node.WriteInt(FrameIntervalNodeName, frameIntervalNs); err != nil {
		c.log.Debug().Err(err).Msg("frame interval write failed")
	}

	c.signal()
}

// SetExpectedPresentTime records the timing of the present about to be
// committed. The next OnPresent consumes it.
func (c *Controller) SetExpectedPresentTime(timestampNs, frameIntervalNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record.pendingCurrentPresent = &expectedPresent{
		TimeNs:          timestampNs,
		FrameIntervalNs: frameIntervalNs,
	}

	// The frame about to land supersedes both the idle countdown and
	// any frame insertion armed for the previous frame.
	c.queue.Drop(eventqueue.KindRenderingTimeout)
	c.cancelPresentTimeoutLocked()
}

// OnPresent feeds one committed frame. The controller takes ownership
// of fence and queries it one present later, off the lock. flags carry
// the per-frame hints the composer derived from the layer stack.
func (c *Controller) OnPresent(fence Fence, flags display.PresentFrameFlag) {
	if fence == nil {
		return
	}

	c.mu.Lock()

	if c.record.pendingCurrentPresent == nil {
		c.mu.Unlock()

		c.log.Warn().Msg("present without expected present time, dropping frame")

		_ = fence.Close()

		return
	}

	pending := *c.record.pendingCurrentPresent
	c.record.pendingCurrentPresent = nil

	if c.powerMode == display.PowerModeDoze {
		flags |= display.FrameFlagPresentingWhenDoze
	}

	if flags&display.FrameFlagIndicatorLayerOnly == 0 {
		c.calculator.OnPresent(pending.TimeNs, flags)
	}

	c.frameRateReporter.OnPresent(pending.TimeNs, flags)
	c.stats.OnPresent(pending.TimeNs, flags)
	c.record.presents.Push(presentRecord{TimeNs: pending.TimeNs, Flags: flags})

	if c.state == StateDisable {
		c.mu.Unlock()

		_ = fence.Close()
		c.signal()

		return
	}

	if c.state == StateHibernate {
		c.log.Warn().Msg("present arrived while hibernating")

		c.state = StateRendering
		c.queue.Drop(eventqueue.KindHibernateTimeout)
		c.flushVsyncHistory = true
	}

	// While a minimum refresh rate lock with a boost window is active
	// the present stream only refreshes the boost, it does not drive
	// the idle state machine or frame insertion.
	if c.maximumRefreshRateTimeoutNs > 0 && c.minimumRefreshRate > 1 && c.pendingMinimumRefreshRate == nil {
		c.boostMinimumRefreshRateLocked(pending.TimeNs)

		c.mu.Unlock()

		_ = fence.Close()
		c.signal()

		return
	}

	previous := c.lastPresentFence
	c.lastPresentFence = fence

	c.queue.Drop(eventqueue.KindRenderingTimeout)
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindRenderingTimeout,
		WhenNs: c.clock.NowNs() + c.renderingTimeoutNsLocked(),
		Action: c.onRenderingTimeout,
	})

	if c.shouldHandlePresentTimeoutLocked() {
		c.armPresentTimeoutLocked(pending.TimeNs)
	}

	c.mu.Unlock()

	c.waitAndRecordFence(previous)
	c.signal()
}

// OnVsync records one vblank for the timing history.
func (c *Controller) OnVsync(timestampNs int64, _ int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.record.vsyncs.Push(vsyncRecord{Kind: vsyncKindVblank, TimeNs: timestampNs})
}

// collectPresentFence takes the retained fence and records its signal
// time. Runs on the worker after a state change, off the lock.
func (c *Controller) collectPresentFence() {
	c.mu.Lock()
	fence := c.lastPresentFence
	c.lastPresentFence = nil
	c.mu.Unlock()

	c.waitAndRecordFence(fence)
}

func (c *Controller) waitAndRecordFence(fence Fence) {
	if fence == nil {
		return
	}

	timeNs, err := fence.SignalTimeNs()

	_ = fence.Close()

	if err != nil {
		if !errors.Is(err, ErrFencePending) {
			c.log.Warn().Err(err).Msg("present fence query failed")
		}

		return
	}

	c.mu.Lock()
	c.record.vsyncs.Push(vsyncRecord{Kind: vsyncKindReleaseFence, TimeNs: timeNs})
	c.mu.Unlock()
}

// renderingTimeoutNsLocked is the idle criteria of the active
// configuration.
func (c *Controller) renderingTimeoutNsLocked() int64 {
	cfg, ok := c.configs[c.activeConfig]
	if ok && cfg.FullySupported && cfg.NotifyExpectedPresent != nil && cfg.NotifyExpectedPresent.TimeoutNs > 0 {
		return cfg.NotifyExpectedPresent.TimeoutNs
	}

	return defaultRenderingTimeoutNs
}

// onExpectedPresentHeadsUp runs the state machine part of a heads-up
// on the worker.
func (c *Controller) onExpectedPresentHeadsUp() error {
	switch c.state {
	case StateRendering:
		c.handleCadenceChangeLocked()
	case StateHibernate:
		c.handleResumeLocked()
		c.state = StateRendering
		c.flushVsyncHistory = true
	case StateDisable:
	}

	return nil
}

// handleCadenceChangeLocked realigns the idle countdown with the
// announced present.
func (c *Controller) handleCadenceChangeLocked() {
	expected := c.record.nextExpectedPresent
	if expected == nil {
		return
	}

	c.record.nextExpectedPresent = nil

	c.queue.Drop(eventqueue.KindRenderingTimeout)
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindRenderingTimeout,
		WhenNs: expected.TimeNs + c.renderingTimeoutNsLocked(),
		Action: c.onRenderingTimeout,
	})
}

// handleResumeLocked leaves hibernate for an announced present.
func (c *Controller) handleResumeLocked() {
	expected := c.record.nextExpectedPresent
	if expected == nil {
		c.log.Error().Msg("resume without an expected present")
		return
	}

	c.record.nextExpectedPresent = nil

	c.queue.Drop(eventqueue.KindHibernateTimeout)
	c.queue.Drop(eventqueue.KindRenderingTimeout)
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindRenderingTimeout,
		WhenNs: expected.TimeNs + c.renderingTimeoutNsLocked(),
		Action: c.onRenderingTimeout,
	})
}

func (c *Controller) onRenderingTimeout() error {
	switch c.state {
	case StateRendering:
		c.handleHibernateLocked()
		c.state = StateHibernate
		c.flushVsyncHistory = true
	case StateHibernate:
		c.log.Error().Msg("rendering timeout while hibernating")
	case StateDisable:
	}

	return nil
}

func (c *Controller) onHibernateTimeout() error {
	switch c.state {
	case StateHibernate:
		c.handleStayHibernateLocked()
	case StateRendering:
		c.log.Error().Msg("hibernate timeout while rendering")
	case StateDisable:
	}

	return nil
}

func (c *Controller) handleHibernateLocked() {
	c.frameRateReporter.Reset()

	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindHibernateTimeout,
		WhenNs: c.clock.NowNs() + hibernateStayAliveNs,
		Action: c.onHibernateTimeout,
	})
}

func (c *Controller) handleStayHibernateLocked() {
	c.queue.Post(&eventqueue.TimedEvent{
		Kind:   eventqueue.KindHibernateTimeout,
		WhenNs: c.clock.NowNs() + hibernateStayAliveNs,
		Action: c.onHibernateTimeout,
	})
}
