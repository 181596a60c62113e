package calculator

import (
	"time"

	"github.com/displaykit/vrrctl/pkg/display"
	"github.com/displaykit/vrrctl/pkg/eventqueue"
)

// fakeClock is a hand-advanced clock for driving queue events in tests.
type fakeClock struct {
	nowNs int64
}

func (c *fakeClock) NowNs() int64 { return c.nowNs }

func (c *fakeClock) Timer(time.Duration) display.Timer { return &fakeTimer{} }

func (c *fakeClock) advance(d int64) { c.nowNs += d }

type fakeTimer struct{}

func (*fakeTimer) Chan() <-chan time.Time   { return nil }
func (*fakeTimer) Stop() bool               { return false }
func (*fakeTimer) Reset(time.Duration) bool { return false }

// runDue executes every queue event due at nowNs, in order.
func runDue(q *eventqueue.Queue, nowNs int64) {
	for {
		ev, ok := q.PopDue(nowNs)
		if !ok {
			return
		}

		if ev.Action != nil {
			_ = ev.Action()
		}
	}
}

// stubCalculator is a scriptable delegate for combiner tests.
type stubCalculator struct {
	base
	rate      int
	onPresent func()
}

func newStubCalculator(name string) *stubCalculator {
	return &stubCalculator{base: newBase(name), rate: InvalidRefreshRate}
}

func (s *stubCalculator) RefreshRate() int { return s.rate }

func (s *stubCalculator) OnPresent(int64, display.PresentFrameFlag) {
	if s.onPresent != nil {
		s.onPresent()
	}
}

func (s *stubCalculator) Reset() { s.rate = InvalidRefreshRate }

func (s *stubCalculator) setRate(rate int) {
	s.rate = rate
	if s.callback != nil {
		s.callback(rate)
	}
}
