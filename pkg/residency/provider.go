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

// Package residency folds the fine-grained refresh statistics onto a
// small, stable set of named power-stats buckets. Bucket names come
// from a declarative token pattern, bucket IDs from a deterministic
// sort of the names, and residency values accumulate across queries.
package residency

import (
	"sort"
	"sync"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
	"github.com/displaykit/vrrctl/pkg/statistics"
)

const nsPerMs = 1_000_000

// fpsMappingTable is the allow list of reportable frame rates,
// expressed as fractions of the maximum TE frequency so that cadences
// measured on any panel divider compare exactly. Cadences outside the
// table collapse onto the fps 0 "other" bucket.
var fpsMappingTable = []display.Fraction{
	{Num: 240, Den: 240},
	{Num: 240, Den: 120},
	{Num: 240, Den: 24},
	{Num: 240, Den: 10},
	{Num: 240, Den: 8},
	{Num: 240, Den: 7},
	{Num: 240, Den: 6},
	{Num: 240, Den: 5},
	{Num: 240, Den: 4},
	{Num: 240, Den: 3},
	{Num: 240, Den: 2},
}

// fpsLowPowerRates are the only rates the panel self-refreshes at in
// low power mode.
var fpsLowPowerRates = []int{1, 30}

// StatisticsSource yields the delta of refresh accounting since the
// previous query.
type StatisticsSource interface {
	UpdatedStatistics() statistics.Statistics
}

// Provider maps statistics profiles onto residency buckets and serves
// the accumulated per-bucket residency to the telemetry consumer.
type Provider struct {
	mu sync.Mutex

	log    logger.Logger
	source StatisticsSource

	configs map[display.ConfigID]display.VrrConfig

	presentPattern    []patternEntry
	nonPresentPattern []patternEntry

	stats    statistics.Statistics
	remapped map[PowerStatsProfile]*statistics.RefreshRecord

	states      []State
	residency   []StateResidency
	profileToID map[PowerStatsProfile]int
}

// NewProvider builds the full candidate bucket space for the given
// configurations using the default residency patterns.
func NewProvider(source StatisticsSource, configs []display.VrrConfig, log logger.Logger) *Provider {
	return NewProviderWithPatterns(source, configs,
		PresentResidencyPattern, NonPresentResidencyPattern, log)
}

// NewProviderWithPatterns builds the candidate bucket space and
// assigns every bucket its stable ID. A malformed residency pattern
// disables bucketing entirely: the state table stays empty and every
// query returns nothing, but the condition is logged rather than
// fatal.
func NewProviderWithPatterns(source StatisticsSource, configs []display.VrrConfig,
	presentPattern, nonPresentPattern string, log logger.Logger) *Provider {
	p := &Provider{
		log:         log,
		source:      source,
		configs:     make(map[display.ConfigID]display.VrrConfig, len(configs)),
		stats:       make(statistics.Statistics),
		remapped:    make(map[PowerStatsProfile]*statistics.RefreshRecord),
		profileToID: make(map[PowerStatsProfile]int),
	}

	for _, cfg := range configs {
		p.configs[cfg.ID] = cfg
	}

	var okPresent, okNonPresent bool

	p.presentPattern, okPresent = parseResidencyPattern(presentPattern)
	p.nonPresentPattern, okNonPresent = parseResidencyPattern(nonPresentPattern)

	if !okPresent || !okNonPresent {
		p.log.Error().Msg("malformed residency pattern; state bucketing disabled")

		p.presentPattern = nil
		p.nonPresentPattern = nil

		return p
	}

	p.generateStates()

	return p
}

// States returns the bucket table in ID order.
func (p *Provider) States() []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]State, len(p.states))
	copy(out, p.states)

	return out
}

// GetStateResidency pulls the statistics delta, folds it onto the
// bucket space and returns the running residency of every bucket.
func (p *Provider) GetStateResidency() []StateResidency {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mapStatistics()
	p.aggregateStatistics()

	out := make([]StateResidency, len(p.residency))
	copy(out, p.residency)

	return out
}

// mapStatistics merges the newest statistics delta into the retained
// table and rebuilds the coarse-bucket view of the whole table.
func (p *Provider) mapStatistics() {
	for profile, record := range p.source.UpdatedStatistics() {
		p.stats[profile] = record
	}

	p.remapped = make(map[PowerStatsProfile]*statistics.RefreshRecord)

	for profile, record := range p.stats {
		key := p.remapProfile(profile)

		entry, ok := p.remapped[key]
		if !ok {
			entry = &statistics.RefreshRecord{}
			p.remapped[key] = entry
		}

		entry.Add(record)
	}
}

// remapProfile collapses one statistics key onto its power-stats
// bucket key. A negative vsync count is the power-off sentinel.
func (p *Provider) remapProfile(profile statistics.RefreshProfile) PowerStatsProfile {
	if profile.NumVsync < 0 {
		return OffPowerStatsProfile()
	}

	cfg := p.configs[profile.Status.ConfigID]

	key := PowerStatsProfile{
		Width:          cfg.Width,
		Height:         cfg.Height,
		PowerMode:      profile.Status.PowerMode,
		BrightnessMode: profile.Status.BrightnessMode,
		Source:         profile.Source,
	}

	fps := display.Fraction{Num: cfg.TeFrequency(), Den: profile.NumVsync}
	for _, allowed := range fpsMappingTable {
		if fps.Equals(allowed) {
			key.Fps = fps.Round()
			break
		}
	}

	return key.Key()
}

// aggregateStatistics folds the remapped records into the residency
// slice. The first record landing on a bucket within one call assigns
// the running totals outright; later records accumulate, so collapsed
// buckets never double count the carried-forward baseline.
func (p *Provider) aggregateStatistics() {
	firstTouch := make(map[int]struct{})

	for profile, record := range p.remapped {
		if !record.Updated {
			continue
		}

		id, ok := p.profileToID[profile]
		if !ok {
			p.log.Error().
				Str("profile", profile.String()).
				Msg("unregistered power-stats bucket; candidate generation should be exhaustive")

			continue
		}

		entry := &p.residency[id]

		if _, touched := firstTouch[id]; touched {
			entry.TotalStateEntryCount += record.Count
			entry.TotalTimeInStateMs += int64(record.AccumulatedTimeNs / nsPerMs)
			entry.LastEntryTimestampMs = max(entry.LastEntryTimestampMs, record.LastTimestampNs/nsPerMs)
		} else {
			entry.TotalStateEntryCount = record.Count
			entry.TotalTimeInStateMs = int64(record.AccumulatedTimeNs / nsPerMs)
			entry.LastEntryTimestampMs = record.LastTimestampNs / nsPerMs

			firstTouch[id] = struct{}{}
		}

		record.Updated = false
	}
}

// generateStates enumerates the full candidate bucket space, renders
// every candidate's name and assigns sequential IDs in name order.
// Candidates that render to the same name share one ID.
func (p *Provider) generateStates() {
	candidates := make(map[PowerStatsProfile]struct{})
	candidates[OffPowerStatsProfile()] = struct{}{}

	for _, source := range display.RefreshSources {
		for _, mode := range display.ActivePowerModes {
			// The panel never refreshes for a non-present reason
			// while dozing.
			if !source.IsPresent() && mode == display.PowerModeDoze {
				continue
			}

			for _, brightness := range display.BrightnessModes {
				for _, cfg := range p.configs {
					candidate := PowerStatsProfile{
						Width:          cfg.Width,
						Height:         cfg.Height,
						PowerMode:      mode,
						BrightnessMode: brightness,
						Source:         source,
					}

					if mode == display.PowerModeDoze {
						for _, fps := range fpsLowPowerRates {
							candidate.Fps = fps
							candidates[candidate] = struct{}{}
						}

						continue
					}

					candidate.Fps = 0
					candidates[candidate] = struct{}{}

					for _, fraction := range fpsMappingTable {
						candidate.Fps = fraction.Round()
						candidates[candidate] = struct{}{}
					}
				}
			}
		}
	}

	profileNames := make(map[PowerStatsProfile]string, len(candidates))
	distinct := make(map[string]struct{})

	for candidate := range candidates {
		pattern := p.presentPattern
		if !candidate.Source.IsPresent() {
			pattern = p.nonPresentPattern
		}

		name := generateStateName(pattern, candidate, p.log)
		profileNames[candidate] = name
		distinct[name] = struct{}{}
	}

	names := make([]string, 0, len(distinct))
	for name := range distinct {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool { return stateNameLess(names[i], names[j]) })

	nameToID := make(map[string]int, len(names))

	for id, name := range names {
		nameToID[name] = id
		p.states = append(p.states, State{ID: id, Name: name})
		p.residency = append(p.residency, StateResidency{ID: id})
	}

	for candidate, name := range profileNames {
		p.profileToID[candidate] = nameToID[name]
	}
}
