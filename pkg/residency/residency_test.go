package residency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
	"github.com/displaykit/vrrctl/pkg/statistics"
)

type fakeClock struct {
	nowNs int64
}

func (c *fakeClock) NowNs() int64 { return c.nowNs }

func (c *fakeClock) Timer(time.Duration) display.Timer { return nil }

func (c *fakeClock) advance(d int64) { c.nowNs += d }

func testConfigs() []display.VrrConfig {
	return []display.VrrConfig{{
		ID:                 1,
		Width:              1080,
		Height:             2400,
		VsyncPeriodNs:      4_166_667,
		MinFrameIntervalNs: 8_333_333,
	}}
}

func newTestProvider(t *testing.T) (*Provider, *statistics.Provider, *fakeClock) {
	t.Helper()

	clock := &fakeClock{}
	stats := statistics.NewProvider(clock, 120, 240, logger.NewTestLogger())
	stats.OnPowerStateChange(display.PowerModeOff, display.PowerModeNormal)
	stats.SetActiveConfiguration(1, 240)

	return NewProvider(stats, testConfigs(), logger.NewTestLogger()), stats, clock
}

func findState(t *testing.T, p *Provider, name string) State {
	t.Helper()

	for _, state := range p.States() {
		if state.Name == name {
			return state
		}
	}

	require.Failf(t, "state not found", "no state named %q in %v", name, p.States())

	return State{}
}

func TestParseResidencyPattern(t *testing.T) {
	entries, ok := parseResidencyPattern("[mode](:)[width](x)[height](@)[fps]()")
	require.True(t, ok)
	require.Len(t, entries, 4)

	assert.Equal(t, patternEntry{Label: "mode", Delimiter: ":"}, entries[0])
	assert.Equal(t, patternEntry{Label: "width", Delimiter: "x"}, entries[1])
	assert.Equal(t, patternEntry{Label: "height", Delimiter: "@"}, entries[2])
	assert.Equal(t, patternEntry{Label: "fps", Delimiter: ""}, entries[3])
}

func TestParseResidencyPatternRejectsTrailingGarbage(t *testing.T) {
	_, ok := parseResidencyPattern("[mode](:)[width](x)junk")
	assert.False(t, ok)
}

func TestStateNameOrdering(t *testing.T) {
	assert.True(t, stateNameLess("NBM:1080x2400@24", "NBM:1080x2400@120"))
	assert.False(t, stateNameLess("NBM:1080x2400@120", "NBM:1080x2400@24"))

	// Different prefixes fall back to plain string order.
	assert.True(t, stateNameLess("HBM:1080x2400@120", "NBM:1080x2400@24"))

	// A non-numeric rate sorts after every numeric one.
	assert.True(t, stateNameLess("NBM:1080x2400@240", "NBM:1080x2400@oth"))
}

func TestGeneratedStateNames(t *testing.T) {
	p, _, _ := newTestProvider(t)

	for _, name := range []string{
		"OFF",
		"NBM:1080x2400@120",
		"HBM:1080x2400@24",
		"NBM:1080x2400@oth",
		"LPM:1080x2400@30",
		"LPM:1080x2400@1",
		"np-NBM:1080x2400",
		"np-HBM:1080x2400",
	} {
		findState(t, p, name)
	}
}

func TestStateIDsAreStableAcrossRuns(t *testing.T) {
	first, stats, _ := newTestProvider(t)
	second := NewProvider(stats, testConfigs(), logger.NewTestLogger())

	assert.Equal(t, first.States(), second.States())
}

func TestStateIDsAreSequentialInNameOrder(t *testing.T) {
	p, _, _ := newTestProvider(t)

	states := p.States()
	require.NotEmpty(t, states)

	for i, state := range states {
		assert.Equal(t, i, state.ID)

		if i > 0 {
			assert.True(t, stateNameLess(states[i-1].Name, state.Name),
				"%q must precede %q", states[i-1].Name, state.Name)
		}
	}
}

func TestGetStateResidencyCountsPresents(t *testing.T) {
	p, stats, clock := newTestProvider(t)

	// Two TE ticks apart: a 120Hz cadence on the 240Hz panel.
	stats.OnPresent(1_000_000, 0)
	stats.OnPresent(1_000_000+2*4_166_667, 0)

	clock.nowNs = 12_000_000

	res := p.GetStateResidency()
	state := findState(t, p, "NBM:1080x2400@120")

	entry := res[state.ID]
	assert.Equal(t, uint64(1), entry.TotalStateEntryCount)
	assert.Equal(t, int64(8), entry.TotalTimeInStateMs)
	assert.Equal(t, int64(9), entry.LastEntryTimestampMs)

	// Re-querying without new activity reports the same totals.
	assert.Equal(t, res, p.GetStateResidency())
}

func TestFullTeCadenceMapsToOtherBucket(t *testing.T) {
	p, stats, clock := newTestProvider(t)

	// One TE tick apart. 240fps is not in the allow list, so the sample
	// collapses onto the "other" bucket.
	stats.OnPresent(1_000_000, 0)
	stats.OnPresent(1_000_000+4_166_667, 0)

	clock.nowNs = 12_000_000

	res := p.GetStateResidency()
	other := findState(t, p, "NBM:1080x2400@oth")

	assert.Equal(t, uint64(1), res[other.ID].TotalStateEntryCount)
}

func TestGetStateResidencyAttributesOffTime(t *testing.T) {
	p, stats, clock := newTestProvider(t)

	clock.advance(2_000_000)
	stats.OnPowerStateChange(display.PowerModeNormal, display.PowerModeOff)

	clock.advance(7_000_000)

	res := p.GetStateResidency()
	off := findState(t, p, "OFF")

	entry := res[off.ID]
	assert.Equal(t, uint64(1), entry.TotalStateEntryCount)
	assert.Equal(t, int64(7), entry.TotalTimeInStateMs)
	assert.Equal(t, int64(2), entry.LastEntryTimestampMs)
}

func TestGetStateResidencyMapsDozePresents(t *testing.T) {
	p, stats, clock := newTestProvider(t)

	stats.OnPresent(1_000_000, 0)
	stats.OnPowerStateChange(display.PowerModeNormal, display.PowerModeDoze)

	stats.OnPresent(10_000_000, display.FrameFlagPresentingWhenDoze)
	stats.OnPresent(200_000_000, display.FrameFlagPresentingWhenDoze)

	clock.nowNs = 250_000_000

	res := p.GetStateResidency()
	state := findState(t, p, "LPM:1080x2400@30")

	assert.GreaterOrEqual(t, res[state.ID].TotalStateEntryCount, uint64(1))
}

func TestUnregisteredBucketIsSkipped(t *testing.T) {
	clock := &fakeClock{}
	stats := statistics.NewProvider(clock, 120, 240, logger.NewTestLogger())
	stats.OnPowerStateChange(display.PowerModeOff, display.PowerModeNormal)
	// Config 99 is unknown to the residency provider, so its buckets
	// were never enumerated.
	stats.SetActiveConfiguration(99, 240)

	p := NewProvider(stats, testConfigs(), logger.NewTestLogger())

	stats.OnPresent(1_000_000, 0)
	stats.OnPresent(1_000_000+4_166_667, 0)

	clock.nowNs = 6_000_000

	for _, entry := range p.GetStateResidency() {
		assert.Zero(t, entry.TotalStateEntryCount)
	}
}

func TestMalformedPatternDisablesBucketing(t *testing.T) {
	clock := &fakeClock{}
	stats := statistics.NewProvider(clock, 120, 240, logger.NewTestLogger())

	p := NewProviderWithPatterns(stats, testConfigs(),
		"[mode](:)[width](x)junk", NonPresentResidencyPattern, logger.NewTestLogger())

	assert.Empty(t, p.States())
	assert.Empty(t, p.GetStateResidency())
}
