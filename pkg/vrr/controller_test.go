package vrr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/filenode"
	"github.com/displaykit/vrrctl/pkg/logger"
)

const testVsync240Ns = 4_166_667

// testConfigs returns a 240Hz TE panel limited to 120Hz presents, a
// full-rate sibling, and a 120Hz full-rate mode. The first one is
// fully supported with a short idle timeout so state transitions
// happen within test time.
func testConfigs() []display.VrrConfig {
	return []display.VrrConfig{
		{
			ID:                 1,
			Width:              1080,
			Height:             2400,
			FullySupported:     true,
			VsyncPeriodNs:      testVsync240Ns,
			MinFrameIntervalNs: 2 * testVsync240Ns,
			NotifyExpectedPresent: &display.NotifyExpectedPresentConfig{
				HeadsUpNs: 30_000_000,
				TimeoutNs: 30_000_000,
			},
		},
		{
			ID:                 2,
			Width:              1080,
			Height:             2400,
			VsyncPeriodNs:      testVsync240Ns,
			MinFrameIntervalNs: testVsync240Ns,
		},
		{
			ID:                 3,
			Width:              1080,
			Height:             2400,
			VsyncPeriodNs:      2 * testVsync240Ns,
			MinFrameIntervalNs: 2 * testVsync240Ns,
		},
	}
}

func newTestController(t *testing.T) (*Controller, *filenode.Node, display.Clock) {
	t.Helper()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, RefreshControlNodeName), []byte(refreshControlEnabled), 0o644))

	for _, name := range []string{FrameRateNodeName, ExpectedPresentTimeNodeName, FrameIntervalNodeName} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	node := filenode.New(dir, logger.NewTestLogger())
	clock := display.NewClock()
	c := NewController(Options{PanelName: "test"}, node, clock, logger.NewTestLogger())

	t.Cleanup(func() {
		_ = c.Close()
		_ = node.Close()
	})

	return c, node, clock
}

// bringUp powers the controller into rendering on configuration 1.
func bringUp(t *testing.T, c *Controller) {
	t.Helper()

	require.NoError(t, c.SetVrrConfigurations(testConfigs()))
	c.SetEnabled(true)
	require.NoError(t, c.PostSetPowerMode(display.PowerModeNormal))
	require.NoError(t, c.SetActiveConfiguration(1))
}

func refreshControlValue(t *testing.T, node *filenode.Node) uint32 {
	t.Helper()

	v, ok := node.LastWrittenValue(RefreshControlNodeName)
	require.True(t, ok, "no refresh control command written")

	return v
}

func TestStartsDisabled(t *testing.T) {
	c, _, _ := newTestController(t)

	assert.Equal(t, StateDisable, c.State())
	assert.Equal(t, 1, c.MinimumRefreshRate())
}

func TestPowerOnEntersRendering(t *testing.T) {
	c, _, _ := newTestController(t)

	bringUp(t, c)

	assert.Equal(t, StateRendering, c.State())
}

func TestPowerOffDisables(t *testing.T) {
	c, _, _ := newTestController(t)

	bringUp(t, c)
	require.NoError(t, c.PostSetPowerMode(display.PowerModeOff))

	assert.Equal(t, StateDisable, c.State())
}

func TestRenderingTimeoutEntersHibernate(t *testing.T) {
	c, _, _ := newTestController(t)

	bringUp(t, c)

	// No presents arrive, so the 30ms idle criteria expires.
	assert.Eventually(t, func() bool {
		return c.State() == StateHibernate
	}, 2*time.Second, time.Millisecond)
}

func TestExpectedPresentResumesFromHibernate(t *testing.T) {
	c, _, clock := newTestController(t)

	bringUp(t, c)

	require.Eventually(t, func() bool {
		return c.State() == StateHibernate
	}, 2*time.Second, time.Millisecond)

	c.NotifyExpectedPresent(clock.NowNs()+8_333_333, 8_333_333)

	assert.Eventually(t, func() bool {
		return c.State() == StateRendering
	}, 2*time.Second, time.Millisecond)
}

func TestNotifyExpectedPresentWritesPanelNodes(t *testing.T) {
	c, node, _ := newTestController(t)

	bringUp(t, c)
	c.NotifyExpectedPresent(12_345_678, 8_333_333)

	got, ok := node.LastWritten(ExpectedPresentTimeNodeName)
	require.True(t, ok)
	assert.Equal(t, "12345678", got)

	got, ok = node.LastWritten(FrameIntervalNodeName)
	require.True(t, ok)
	assert.Equal(t, "8333333", got)
}

func TestPresentFeedsStatistics(t *testing.T) {
	c, _, clock := newTestController(t)

	bringUp(t, c)

	now := clock.NowNs()
	c.SetExpectedPresentTime(now, 8_333_333)
	c.OnPresent(NewSignaledFence(now), 0)

	assert.Equal(t, StateRendering, c.State())
	assert.NotEmpty(t, c.Statistics().Statistics())
}

func TestPresentWithoutExpectedTimeIsDropped(t *testing.T) {
	c, _, clock := newTestController(t)

	bringUp(t, c)
	before := len(c.Statistics().Statistics())

	c.OnPresent(NewSignaledFence(clock.NowNs()), 0)

	assert.Len(t, c.Statistics().Statistics(), before)
}

func TestSoftwarePresentTimeoutInsertsFrame(t *testing.T) {
	c, node, clock := newTestController(t)

	bringUp(t, c)
	require.NoError(t, c.SetPresentTimeoutParameters(5_000_000, []TimeoutPhase{{Count: 1, IntervalNs: 5_000_000}}))

	now := clock.NowNs()
	c.SetExpectedPresentTime(now, 8_333_333)
	c.OnPresent(NewSignaledFence(now), 0)

	// The insertion command clears auto mode and asks for one frame.
	assert.Eventually(t, func() bool {
		v, ok := node.LastWrittenValue(RefreshControlNodeName)
		return ok &&
			v&refreshCtrlFrameInsertionFrameCountMask == 1 &&
			v&(1<<refreshCtrlFrameInsertionAutoModeBit) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestHardwareTimeoutControllerSetsAutoMode(t *testing.T) {
	c, node, _ := newTestController(t)

	bringUp(t, c)
	require.NoError(t, c.SetPresentTimeoutController(PresentTimeoutControllerHardware))

	v := refreshControlValue(t, node)
	assert.NotZero(t, v&(1<<refreshCtrlFrameInsertionAutoModeBit))
}

func TestDozeHandsPacingToHardware(t *testing.T) {
	c, node, _ := newTestController(t)

	bringUp(t, c)
	require.NoError(t, c.PreSetPowerMode(display.PowerModeDoze))

	v := refreshControlValue(t, node)
	assert.NotZero(t, v&(1<<refreshCtrlFrameInsertionAutoModeBit))

	require.NoError(t, c.PostSetPowerMode(display.PowerModeDoze))
	assert.Equal(t, StateDisable, c.State())
}

func TestGenerateValidRefreshRates(t *testing.T) {
	rates := generateValidRefreshRates(testConfigs()[1])

	require.NotEmpty(t, rates)
	assert.Equal(t, 1, rates[0])
	assert.Equal(t, 240, rates[len(rates)-1])
	assert.Contains(t, rates, 120)
	assert.Contains(t, rates, 60)
	assert.IsIncreasing(t, rates)
}

func TestSnapToValidRefreshRate(t *testing.T) {
	rates := []int{1, 24, 30, 60, 120}

	assert.Equal(t, 60, snapToValidRefreshRate(rates, 55))
	assert.Equal(t, 24, snapToValidRefreshRate(rates, 24))
	assert.Equal(t, 120, snapToValidRefreshRate(rates, 500))
	assert.Equal(t, 1, snapToValidRefreshRate(rates, -1))
}

func TestRejectsFullySupportedConfigWithoutTiming(t *testing.T) {
	c, _, _ := newTestController(t)

	err := c.SetVrrConfigurations([]display.VrrConfig{{
		ID:                 7,
		FullySupported:     true,
		VsyncPeriodNs:      testVsync240Ns,
		MinFrameIntervalNs: testVsync240Ns,
	}})

	assert.Error(t, err)
}

func TestSetActiveConfigurationUnknownFails(t *testing.T) {
	c, _, _ := newTestController(t)

	bringUp(t, c)

	assert.Error(t, c.SetActiveConfiguration(42))
}

func TestDumpRendersState(t *testing.T) {
	c, _, _ := newTestController(t)

	bringUp(t, c)

	dump := c.Dump()
	assert.Contains(t, dump, "state=rendering")
	assert.Contains(t, dump, "panel=test")
	assert.Contains(t, dump, "event queue")
}
