package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundDivide(t *testing.T) {
	tests := []struct {
		name     string
		dividend int64
		divisor  int64
		want     int64
	}{
		{"exact", 100, 10, 10},
		{"rounds up at half", 15, 10, 2},
		{"rounds down below half", 14, 10, 1},
		{"zero divisor", 100, 0, 0},
		{"negative dividend", -5, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoundDivide(tt.dividend, tt.divisor))
		})
	}
}

func TestFreqDurationRoundTrip(t *testing.T) {
	assert.Equal(t, int64(120), DurationNsToFreq(FreqToDurationNs(120)))
	assert.Equal(t, int64(60), DurationNsToFreq(16_666_667))
	assert.Equal(t, int64(1), DurationNsToFreq(NsPerSecond))
}

func TestPowerModeIsOff(t *testing.T) {
	assert.True(t, PowerModeOff.IsOff())
	assert.True(t, PowerModeDozeSuspend.IsOff())
	assert.False(t, PowerModeDoze.IsOff())
	assert.False(t, PowerModeNormal.IsOff())
}

func TestRefreshSourceMasks(t *testing.T) {
	assert.True(t, RefreshSourceActivePresent.IsPresent())
	assert.True(t, RefreshSourceIdlePresent.IsPresent())
	assert.False(t, RefreshSourceFrameInsertion.IsPresent())
	assert.False(t, RefreshSourceBrightness.IsPresent())
}

func TestFraction(t *testing.T) {
	assert.Equal(t, 34, Fraction{240, 7}.Round())
	assert.Equal(t, 1, Fraction{240, 240}.Round())
	assert.True(t, Fraction{240, 240}.Less(Fraction{240, 120}))
	assert.True(t, Fraction{1, 2}.Equals(Fraction{120, 240}))
	assert.Equal(t, 0, Fraction{1, 0}.Round())
}

func TestBitHelpers(t *testing.T) {
	v := SetBit(0, 3)
	assert.Equal(t, uint32(8), v)
	assert.Equal(t, uint32(0), ClearBit(v, 3))

	const mask = uint32(0x0000FF00)

	got := SetBitField(0xFFFF_FFFF, 0x12, 8, mask)
	assert.Equal(t, uint32(0xFFFF12FF), got)
}

func TestVrrConfig(t *testing.T) {
	halfRate := VrrConfig{
		VsyncPeriodNs:      FreqToDurationNs(240),
		MinFrameIntervalNs: FreqToDurationNs(120),
	}
	assert.Equal(t, 240, halfRate.TeFrequency())
	assert.Equal(t, 120, halfRate.MaxFrameRate())

	// A panel that skips TE pulses cannot pin a minimum rate.
	assert.False(t, halfRate.MinRefreshRateCompatible(120))
	assert.False(t, halfRate.MinRefreshRateCompatible(30))

	fullRate := VrrConfig{
		VsyncPeriodNs:      FreqToDurationNs(240),
		MinFrameIntervalNs: FreqToDurationNs(240),
	}
	assert.True(t, fullRate.MinRefreshRateCompatible(240))
	assert.True(t, fullRate.MinRefreshRateCompatible(30))
	assert.False(t, fullRate.MinRefreshRateCompatible(241))
	assert.False(t, fullRate.MinRefreshRateCompatible(0))
}
