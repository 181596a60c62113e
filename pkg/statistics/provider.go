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

// Package statistics accounts panel refreshes per display state. Every
// refresh is bucketed by the active configuration, power and
// brightness mode, the vsync distance to the previous refresh and the
// refresh source; idle stretches are retroactively credited to the
// panel's self-refresh cadence.
package statistics

import (
	"sync"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
)

const (
	maxRefreshIntervalNs int64 = display.NsPerSecond

	// frameRateWhenPresentAtLpMode is the panel boost rate while a
	// frame is presented in low power mode.
	frameRateWhenPresentAtLpMode = 30

	invalidRefreshTimeNs int64 = -1
)

// Provider implements the refresh accounting. Producers feed it under
// the controller lock; snapshot readers may call from any goroutine.
type Provider struct {
	mu sync.Mutex

	log   logger.Logger
	clock display.Clock

	maxFrameRate       int
	maxTeFrequency     int
	minFrameIntervalNs int64

	teFrequency  int
	teIntervalNs int64

	stats   map[RefreshProfile]*RefreshRecord
	profile RefreshProfile

	brightnessMode display.BrightnessMode

	lastRefreshTimeNs  int64
	powerOffDurationNs uint64

	minimumRefreshRate     uint32
	maximumFrameIntervalNs int64

	startTimeNs int64
}

// NewProvider creates a provider. maxFrameRate and maxTeFrequency come
// from the panel description; the provider starts in the power-off
// state.
func NewProvider(clock display.Clock, maxFrameRate, maxTeFrequency int, log logger.Logger) *Provider {
	p := &Provider{
		log:                    log,
		clock:                  clock,
		maxFrameRate:           maxFrameRate,
		maxTeFrequency:         maxTeFrequency,
		minFrameIntervalNs:     display.FreqToDurationNs(int64(maxFrameRate)),
		teFrequency:            maxFrameRate,
		teIntervalNs:           display.FreqToDurationNs(int64(maxFrameRate)),
		stats:                  make(map[RefreshProfile]*RefreshRecord),
		profile:                OffProfile(),
		brightnessMode:         display.BrightnessModeInvalid,
		lastRefreshTimeNs:      invalidRefreshTimeNs,
		minimumRefreshRate:     1,
		maximumFrameIntervalNs: maxRefreshIntervalNs,
		startTimeNs:            clock.NowNs(),
	}

	p.stats[OffProfile()] = &RefreshRecord{}

	return p
}

func (p *Provider) StartTimeNs() int64 {
	return p.startTimeNs
}

// PowerOffDurationNs returns the total accumulated off time including
// the currently running off stretch.
func (p *Provider) PowerOffDurationNs() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.powerOffDurationLocked()
}

func (p *Provider) powerOffDurationLocked() uint64 {
	if !p.profile.IsOff() {
		return p.powerOffDurationNs
	}

	rec, ok := p.stats[OffProfile()]
	if !ok {
		p.log.Error().Msg("power-off record missing; it is inserted at construction")
		return 0
	}

	return p.powerOffDurationNs + uint64(p.clock.NowNs()-rec.LastTimestampNs)
}

// Statistics returns a full snapshot of the table.
func (p *Provider) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateIdleStatsLocked(invalidRefreshTimeNs)

	out := make(Statistics, len(p.stats))
	for key, rec := range p.stats {
		out[key] = *rec
	}

	return out
}

// UpdatedStatistics returns the records touched since the previous
// call and clears their dirty flag. The power-off record reports the
// total off duration and stays dirty while the panel remains off.
func (p *Provider) UpdatedStatistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateIdleStatsLocked(invalidRefreshTimeNs)

	out := make(Statistics)

	for key, rec := range p.stats {
		if !rec.Updated {
			continue
		}

		if key.NumVsync < 0 {
			rec.AccumulatedTimeNs = p.powerOffDurationLocked()
		}

		out[key] = *rec
		rec.Updated = false
	}

	if p.profile.IsOff() {
		p.stats[OffProfile()].Updated = true
	}

	return out
}

// OnPresent feeds one presented frame.
func (p *Provider) OnPresent(presentTimeNs int64, flags display.PresentFrameFlag) {
	p.onRefresh(presentTimeNs, flags, display.RefreshSourceActivePresent)
}

// OnNonPresentRefresh feeds a panel refresh that was not caused by a
// client frame, such as a frame insertion or brightness change.
func (p *Provider) OnNonPresentRefresh(refreshTimeNs int64, source display.RefreshSource) {
	p.onRefresh(refreshTimeNs, 0, source)
}

func (p *Provider) onRefresh(refreshTimeNs int64, flags display.PresentFrameFlag, source display.RefreshSource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastRefreshTimeNs == invalidRefreshTimeNs {
		// Ignore the first refresh after resume; there is no previous
		// refresh to measure against.
		p.lastRefreshTimeNs = refreshTimeNs
		p.refreshBrightnessLocked()

		return
	}

	p.updateIdleStatsLocked(refreshTimeNs)
	p.refreshBrightnessLocked()

	presentingWhenDoze := flags&display.FrameFlagPresentingWhenDoze != 0

	if presentingWhenDoze {
		// In low power mode the panel boosts to 30Hz while the frame
		// is presented.
		p.profile.NumVsync = p.teFrequency / frameRateWhenPresentAtLpMode
		p.lastRefreshTimeNs = refreshTimeNs + display.NsPerSecond/frameRateWhenPresentAtLpMode
	} else {
		numVsync := int(display.RoundDivide(refreshTimeNs-p.lastRefreshTimeNs, p.teIntervalNs))
		// A present and a non-present refresh can land on the same
		// vsync; such zero-duration samples are discarded rather than
		// skewing a bucket.
		if numVsync == 0 {
			return
		}

		numVsync = max(1, min(p.teFrequency, numVsync))
		p.profile.NumVsync = numVsync
		p.lastRefreshTimeNs = refreshTimeNs
		p.profile.Source = source
	}

	rec := p.recordLocked(p.profile)
	rec.Count++
	rec.AccumulatedTimeNs += uint64(p.teIntervalNs * int64(p.profile.NumVsync))
	rec.LastTimestampNs = refreshTimeNs
	rec.Updated = true

	if presentingWhenDoze {
		// After presenting a frame in AOD the panel reverts to 1Hz.
		p.profile.NumVsync = p.teFrequency
		revert := p.recordLocked(p.profile)
		revert.Count++
		revert.LastTimestampNs = p.lastRefreshTimeNs
		revert.Updated = true
	}
}

// OnPowerStateChange tracks panel power transitions, crediting idle
// time to the outgoing state and off time to the collapsed off bucket.
func (p *Provider) OnPowerStateChange(from, to display.PowerMode) {
	if from == to {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.profile.Status.PowerMode != from {
		p.log.Error().
			Str("stored", p.profile.Status.PowerMode.String()).
			Str("actual", from.String()).
			Msg("power mode mismatch between stored and actual state")
	}

	p.updateIdleStatsLocked(invalidRefreshTimeNs)

	nowNs := p.clock.NowNs()

	if to.IsOff() {
		// Doze-suspend counts as off for accounting.
		p.profile.Status.PowerMode = display.PowerModeOff

		rec := p.recordLocked(p.profile)
		rec.Count++
		rec.LastTimestampNs = nowNs
		rec.Updated = true

		p.lastRefreshTimeNs = invalidRefreshTimeNs

		return
	}

	if from.IsOff() {
		p.powerOffDurationNs += uint64(nowNs - p.stats[OffProfile()].LastTimestampNs)
	}

	p.profile.Status.PowerMode = to

	if to == display.PowerModeDoze {
		// Entering doze immediately runs the panel at its self
		// refresh cadence; seed the bucket with one tick.
		p.profile.NumVsync = p.teFrequency

		rec := p.recordLocked(p.profile)
		rec.Count++
		rec.LastTimestampNs = nowNs
		rec.Updated = true
	}
}

// SetActiveConfiguration switches the accounting to a new display
// configuration.
func (p *Provider) SetActiveConfiguration(id display.ConfigID, teFrequency int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updateIdleStatsLocked(invalidRefreshTimeNs)

	p.profile.Status.ConfigID = id
	p.teFrequency = teFrequency

	if p.teFrequency%p.maxFrameRate != 0 {
		p.log.Warn().
			Int("te_frequency", p.teFrequency).
			Int("max_frame_rate", p.maxFrameRate).
			Msg("TE frequency does not align with the maximum frame rate as a multiplier")
	}

	p.teIntervalNs = display.FreqToDurationNs(int64(p.teFrequency))

	if p.minimumRefreshRate > 0 && p.teFrequency%int(p.minimumRefreshRate) != 0 {
		p.log.Warn().
			Int("te_frequency", p.teFrequency).
			Uint32("minimum_refresh_rate", p.minimumRefreshRate).
			Msg("TE frequency does not align with the lowest frame rate as a multiplier")
	}
}

// SetFixedRefreshRate enforces a minimum refresh rate floor, or
// reverts to fully variable refresh when rate is zero or one.
func (p *Provider) SetFixedRefreshRate(rate uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.minimumRefreshRate == rate {
		return
	}

	p.updateIdleStatsLocked(invalidRefreshTimeNs)
	p.minimumRefreshRate = rate

	if p.minimumRefreshRate > 1 {
		p.maximumFrameIntervalNs = display.FreqToDurationNs(int64(p.minimumRefreshRate))

		if p.teFrequency%int(p.minimumRefreshRate) != 0 {
			p.log.Warn().
				Int("te_frequency", p.teFrequency).
				Uint32("minimum_refresh_rate", p.minimumRefreshRate).
				Msg("TE frequency does not align with the lowest frame rate as a multiplier")
		}
	} else {
		p.maximumFrameIntervalNs = maxRefreshIntervalNs
	}
}

// SetBrightnessMode records the panel brightness operating point used
// for subsequent samples.
func (p *Provider) SetBrightnessMode(mode display.BrightnessMode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.brightnessMode = mode
}

func (p *Provider) refreshBrightnessLocked() {
	mode := p.brightnessMode
	if mode == display.BrightnessModeInvalid {
		mode = display.BrightnessModeNormal
	}

	p.profile.Status.BrightnessMode = mode
}

func (p *Provider) recordLocked(profile RefreshProfile) *RefreshRecord {
	key := profile.Key()

	rec, ok := p.stats[key]
	if !ok {
		rec = &RefreshRecord{}
		p.stats[key] = rec
	}

	return rec
}

// updateIdleStatsLocked retroactively credits the stretch since the
// last refresh to the panel's self-refresh cadence. endTimeNs < 0
// means now. Never applies while off.
func (p *Provider) updateIdleStatsLocked(endTimeNs int64) {
	if p.profile.IsOff() {
		return
	}

	if p.lastRefreshTimeNs == invalidRefreshTimeNs {
		return
	}

	if endTimeNs < 0 {
		endTimeNs = p.clock.NowNs()
	}

	durationNs := max(int64(0), endTimeNs-p.lastRefreshTimeNs)

	if p.profile.Status.PowerMode == display.PowerModeDoze {
		p.profile.NumVsync = p.teFrequency

		rec := p.recordLocked(p.profile)
		rec.AccumulatedTimeNs += uint64(durationNs)
		rec.LastTimestampNs = p.lastRefreshTimeNs
		p.lastRefreshTimeNs = endTimeNs
		rec.Updated = true

		return
	}

	numVsync := int(display.RoundDivide(durationNs, p.teIntervalNs))

	p.profile.NumVsync = p.teFrequency
	if p.minimumRefreshRate > 1 {
		p.profile.NumVsync = p.teFrequency / int(p.minimumRefreshRate)
	}

	if numVsync <= p.profile.NumVsync {
		return
	}

	// The last vsync is excluded: it belongs to the next update or
	// present.
	count := uint64(numVsync-1) / uint64(p.profile.NumVsync)
	alignedDurationNs := p.maximumFrameIntervalNs * int64(count)

	rec := p.recordLocked(p.profile)
	rec.Count += count
	rec.AccumulatedTimeNs += uint64(alignedDurationNs)
	p.lastRefreshTimeNs += alignedDurationNs
	rec.LastTimestampNs = p.lastRefreshTimeNs
	rec.Updated = true
}
