package statistics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/logger"
)

type fakeClock struct {
	nowNs int64
}

func (c *fakeClock) NowNs() int64 { return c.nowNs }

func (c *fakeClock) Timer(time.Duration) display.Timer { return nil }

func (c *fakeClock) advance(d int64) { c.nowNs += d }

const teIntervalNs = 4_166_667 // 240Hz TE

func newActiveProvider(t *testing.T) (*Provider, *fakeClock) {
	t.Helper()

	clock := &fakeClock{}
	p := NewProvider(clock, 120, 240, logger.NewTestLogger())
	p.OnPowerStateChange(display.PowerModeOff, display.PowerModeNormal)
	p.SetActiveConfiguration(1, 240)

	return p, clock
}

func TestRecordAddCommutes(t *testing.T) {
	a := RefreshRecord{Count: 3, AccumulatedTimeNs: 100, LastTimestampNs: 50}
	b := RefreshRecord{Count: 5, AccumulatedTimeNs: 200, LastTimestampNs: 20}

	ab := a
	ab.Add(b)

	ba := b
	ba.Add(a)

	assert.Equal(t, ab, ba)
	assert.True(t, ab.Updated)
	assert.Equal(t, uint64(8), ab.Count)
	assert.Equal(t, uint64(300), ab.AccumulatedTimeNs)
	assert.Equal(t, int64(50), ab.LastTimestampNs)
}

func TestOffProfileCollapse(t *testing.T) {
	off := RefreshProfile{
		Status: DisplayStatus{
			ConfigID:       3,
			PowerMode:      display.PowerModeDozeSuspend,
			BrightnessMode: display.BrightnessModeHigh,
		},
		NumVsync: 17,
	}

	assert.Equal(t, OffProfile(), off.Key())

	on := off
	on.Status.PowerMode = display.PowerModeNormal
	assert.Equal(t, on, on.Key())
}

func TestPresentOneTickApart(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)
	p.OnPresent(1_000_000+teIntervalNs, 0)

	stats := p.Statistics()

	key := RefreshProfile{
		Status: DisplayStatus{
			ConfigID:       1,
			PowerMode:      display.PowerModeNormal,
			BrightnessMode: display.BrightnessModeNormal,
		},
		NumVsync: 1,
		Source:   display.RefreshSourceActivePresent,
	}

	rec, ok := stats[key]
	require.True(t, ok, "expected a numVsync=1 bucket, have %v", stats)
	assert.Equal(t, uint64(1), rec.Count)
	assert.Equal(t, uint64(teIntervalNs), rec.AccumulatedTimeNs)
}

func TestZeroVsyncSampleDiscarded(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)
	p.OnPresent(1_000_000+teIntervalNs, 0)
	// A non-present refresh colliding on the same vsync is dropped.
	p.OnNonPresentRefresh(1_000_000+teIntervalNs, display.RefreshSourceFrameInsertion)

	stats := p.Statistics()

	total := uint64(0)
	for key, rec := range stats {
		if key.NumVsync > 0 {
			total += rec.Count
		}
	}

	assert.Equal(t, uint64(1), total)
}

func TestNonPresentRefreshSourceTracked(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)
	p.OnNonPresentRefresh(1_000_000+2*teIntervalNs, display.RefreshSourceBrightness)

	stats := p.Statistics()

	found := false
	for key := range stats {
		if key.Source == display.RefreshSourceBrightness {
			found = true
			assert.Equal(t, 2, key.NumVsync)
		}
	}

	assert.True(t, found)
}

func TestPowerOffAccounting(t *testing.T) {
	p, clock := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)

	clock.advance(10_000_000)
	p.OnPowerStateChange(display.PowerModeNormal, display.PowerModeOff)

	offAtNs := clock.NowNs()

	stats := p.Statistics()
	rec, ok := stats[OffProfile()]
	require.True(t, ok)
	assert.Equal(t, uint64(1), rec.Count)
	assert.Equal(t, offAtNs, rec.LastTimestampNs)

	// Off duration keeps running while off.
	clock.advance(5_000_000)
	assert.Equal(t, uint64(5_000_000), p.PowerOffDurationNs())

	// Resume stops the clock.
	p.OnPowerStateChange(display.PowerModeOff, display.PowerModeNormal)
	clock.advance(50_000_000)
	assert.Equal(t, uint64(5_000_000), p.PowerOffDurationNs())
}

func TestDozeSuspendCountsAsOff(t *testing.T) {
	p, clock := newActiveProvider(t)

	clock.advance(1_000_000)
	p.OnPowerStateChange(display.PowerModeNormal, display.PowerModeDozeSuspend)

	clock.advance(3_000_000)
	assert.Equal(t, uint64(3_000_000), p.PowerOffDurationNs())
}

func TestDozeEntrySeedsSelfRefreshBucket(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPowerStateChange(display.PowerModeNormal, display.PowerModeDoze)

	stats := p.Statistics()

	found := false
	for key, rec := range stats {
		if key.Status.PowerMode == display.PowerModeDoze && key.NumVsync == 240 {
			found = true
			assert.GreaterOrEqual(t, rec.Count, uint64(1))
		}
	}

	assert.True(t, found, "expected a doze self-refresh bucket, have %v", stats)
}

func TestDozePresentBoostsAndReverts(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPowerStateChange(display.PowerModeNormal, display.PowerModeDoze)

	p.OnPresent(10_000_000, display.FrameFlagPresentingWhenDoze)
	p.OnPresent(200_000_000, display.FrameFlagPresentingWhenDoze)

	stats := p.Statistics()

	var boost, revert RefreshRecord

	for key, rec := range stats {
		if key.Status.PowerMode != display.PowerModeDoze {
			continue
		}

		switch key.NumVsync {
		case 240 / frameRateWhenPresentAtLpMode:
			boost = rec
		case 240:
			revert = rec
		}
	}

	// The second doze present lands the boost record; the first is
	// swallowed as the post-resume baseline refresh.
	assert.Equal(t, uint64(1), boost.Count)
	assert.GreaterOrEqual(t, revert.Count, uint64(1))
}

func TestIdleGapRetroCredit(t *testing.T) {
	p, clock := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)
	p.OnPresent(1_000_000+teIntervalNs, 0)

	// 3.5 seconds of idle at the 1Hz self-refresh cadence.
	clock.nowNs = 1_000_000 + teIntervalNs + 3_500_000_000

	stats := p.Statistics()

	key := RefreshProfile{
		Status: DisplayStatus{
			ConfigID:       1,
			PowerMode:      display.PowerModeNormal,
			BrightnessMode: display.BrightnessModeNormal,
		},
		NumVsync: 240,
		Source:   display.RefreshSourceActivePresent,
	}

	rec, ok := stats[key]
	require.True(t, ok, "expected an idle self-refresh bucket, have %v", stats)
	assert.Equal(t, uint64(3), rec.Count)
	assert.Equal(t, uint64(3_000_000_000), rec.AccumulatedTimeNs)
}

func TestIdleCreditRespectsMinimumRefreshRate(t *testing.T) {
	p, clock := newActiveProvider(t)

	p.SetFixedRefreshRate(30)

	p.OnPresent(1_000_000, 0)
	p.OnPresent(1_000_000+teIntervalNs, 0)

	clock.nowNs = 1_000_000 + teIntervalNs + 100_000_000

	stats := p.Statistics()

	// At a 30Hz floor the idle cadence is teFrequency/30 = 8 vsyncs.
	found := false
	for key := range stats {
		if key.NumVsync == 8 {
			found = true
		}
	}

	assert.True(t, found, "expected an 8-vsync idle bucket, have %v", stats)
}

func TestUpdatedStatisticsDelta(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)
	p.OnPresent(1_000_000+teIntervalNs, 0)

	first := p.UpdatedStatistics()
	assert.NotEmpty(t, first)

	second := p.UpdatedStatistics()
	assert.Empty(t, second)
}

func TestUpdatedStatisticsOffStaysDirty(t *testing.T) {
	p, clock := newActiveProvider(t)

	clock.advance(1_000_000)
	p.OnPowerStateChange(display.PowerModeNormal, display.PowerModeOff)

	first := p.UpdatedStatistics()
	_, ok := first[OffProfile()]
	require.True(t, ok)

	clock.advance(2_000_000)

	second := p.UpdatedStatistics()
	rec, ok := second[OffProfile()]
	require.True(t, ok, "off record must stay dirty while off")
	assert.Equal(t, p.PowerOffDurationNs(), rec.AccumulatedTimeNs)
}

func TestFirstRefreshAfterResumeIgnored(t *testing.T) {
	p, _ := newActiveProvider(t)

	p.OnPresent(1_000_000, 0)

	stats := p.Statistics()

	for key, rec := range stats {
		if key.NumVsync > 0 {
			assert.Zero(t, rec.Count, "first refresh after resume must not be bucketed")
		}
	}
}
