package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
	"github.com/displaykit/vrrctl/pkg/logger"
)

func TestExitIdleCalculatorBurstsAfterIdleGap(t *testing.T) {
	q := eventqueue.New()
	c := NewExitIdleCalculator(q, DefaultExitIdleParams(), logger.NewTestLogger())

	// First present after boot counts as an idle exit.
	c.OnPresent(0, 0)
	assert.Equal(t, defaultMaxFrameRate, c.RefreshRate())

	// The burst estimate expires.
	runDue(q, c.params.MaxValidTimeNs)
	assert.Equal(t, InvalidRefreshRate, c.RefreshRate())

	// Steady presents inside the idle criteria do not burst.
	c.OnPresent(300_000_000, 0)
	assert.Equal(t, InvalidRefreshRate, c.RefreshRate())

	// A present after a gap over the idle criteria bursts again.
	c.OnPresent(300_000_000+c.params.IdleCriteriaTimeNs+1, 0)
	assert.Equal(t, defaultMaxFrameRate, c.RefreshRate())
}

func TestExitIdleCalculatorDisableDropsTimeout(t *testing.T) {
	q := eventqueue.New()
	c := NewExitIdleCalculator(q, DefaultExitIdleParams(), logger.NewTestLogger())

	c.OnPresent(0, 0)
	assert.Equal(t, 1, q.Count(eventqueue.KindExitIdleTimeout))

	c.OnPowerStateChange(display.PowerModeNormal, display.PowerModeOff)
	assert.Equal(t, 0, q.Count(eventqueue.KindExitIdleTimeout))
}

func TestExitIdleCalculatorIgnoresDozePresents(t *testing.T) {
	q := eventqueue.New()
	c := NewExitIdleCalculator(q, DefaultExitIdleParams(), logger.NewTestLogger())

	c.OnPresent(0, display.FrameFlagPresentingWhenDoze)
	assert.Equal(t, InvalidRefreshRate, c.RefreshRate())
}
