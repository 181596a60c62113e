package eventqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPopOrdersByDueTime(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindRenderingTimeout, WhenNs: 300})
	q.Post(&TimedEvent{Kind: KindHibernateTimeout, WhenNs: 100})
	q.Post(&TimedEvent{Kind: KindPeriodMeasure, WhenNs: 200})

	ev, ok := q.PopDue(1000)
	require.True(t, ok)
	assert.Equal(t, KindHibernateTimeout, ev.Kind)

	ev, ok = q.PopDue(1000)
	require.True(t, ok)
	assert.Equal(t, KindPeriodMeasure, ev.Kind)

	ev, ok = q.PopDue(1000)
	require.True(t, ok)
	assert.Equal(t, KindRenderingTimeout, ev.Kind)

	_, ok = q.PopDue(1000)
	assert.False(t, ok)
}

func TestPopInsertionOrderTiebreak(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindInstantTimeout, WhenNs: 50})
	q.Post(&TimedEvent{Kind: KindExitIdleTimeout, WhenNs: 50})
	q.Post(&TimedEvent{Kind: KindAodTimeout, WhenNs: 50})

	var kinds []Kind

	for {
		ev, ok := q.PopDue(50)
		if !ok {
			break
		}

		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []Kind{KindInstantTimeout, KindExitIdleTimeout, KindAodTimeout}, kinds)
}

func TestPopDueRespectsNow(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindRenderingTimeout, WhenNs: 500})

	_, ok := q.PopDue(499)
	assert.False(t, ok)

	ev, ok := q.PopDue(500)
	require.True(t, ok)
	assert.Equal(t, int64(500), ev.WhenNs)
}

func TestDropByMask(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindRenderingTimeout, WhenNs: 1})
	q.Post(&TimedEvent{Kind: KindHibernateTimeout, WhenNs: 2})
	q.Post(&TimedEvent{Kind: KindPeriodMeasure, WhenNs: 3})
	q.Post(&TimedEvent{Kind: KindInstantTimeout, WhenNs: 4})

	t.Run("family drop leaves other family untouched", func(t *testing.T) {
		dropped := q.Drop(KindControlMask)
		assert.Equal(t, 2, dropped)
		assert.Equal(t, 2, q.Len())
		assert.Equal(t, 0, q.Count(KindControlMask))
		assert.Equal(t, 2, q.Count(KindCallbackMask))
	})

	t.Run("single kind drop is exact", func(t *testing.T) {
		dropped := q.Drop(KindPeriodMeasure)
		assert.Equal(t, 1, dropped)

		ev, ok := q.PopDue(10)
		require.True(t, ok)
		assert.Equal(t, KindInstantTimeout, ev.Kind)
	})
}

func TestDropKeepsHeapOrder(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindInstantTimeout, WhenNs: 40})
	q.Post(&TimedEvent{Kind: KindRenderingTimeout, WhenNs: 10})
	q.Post(&TimedEvent{Kind: KindExitIdleTimeout, WhenNs: 30})
	q.Post(&TimedEvent{Kind: KindHibernateTimeout, WhenNs: 20})

	q.Drop(KindControlMask)

	ev, ok := q.PopDue(100)
	require.True(t, ok)
	assert.Equal(t, KindExitIdleTimeout, ev.Kind)

	ev, ok = q.PopDue(100)
	require.True(t, ok)
	assert.Equal(t, KindInstantTimeout, ev.Kind)
}

func TestNextDueNs(t *testing.T) {
	q := New()

	_, ok := q.NextDueNs()
	assert.False(t, ok)

	q.PostDelayed(KindRenderingTimeout, 100, 50, nil)

	due, ok := q.NextDueNs()
	require.True(t, ok)
	assert.Equal(t, int64(150), due)
}

func TestDropAllAndDump(t *testing.T) {
	q := New()
	q.Post(&TimedEvent{Kind: KindRenderingTimeout, WhenNs: 1})
	q.Post(&TimedEvent{Kind: KindAodTimeout, WhenNs: 2})

	assert.Contains(t, q.Dump(), "2 pending")
	assert.Contains(t, q.Dump(), "rendering_timeout")

	q.DropAll()
	assert.Equal(t, 0, q.Len())
}
