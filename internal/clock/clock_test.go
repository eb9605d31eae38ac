package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceRunsDueTimersInOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	var firedAt []time.Time
	c.AfterFunc(2*time.Minute, func() {
		order = append(order, "second")
		firedAt = append(firedAt, c.Now())
	})
	c.AfterFunc(time.Minute, func() {
		order = append(order, "first")
		firedAt = append(firedAt, c.Now())
	})
	c.AfterFunc(10*time.Minute, func() { order = append(order, "late") })

	c.Advance(5 * time.Minute)

	require.Equal(t, []string{"first", "second"}, order)
	require.Equal(t, start.Add(time.Minute), firedAt[0])
	require.Equal(t, start.Add(2*time.Minute), firedAt[1])
	require.Equal(t, start.Add(5*time.Minute), c.Now())
	require.Equal(t, 1, c.Pending())
}

func TestFakeStopIsIdempotent(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(time.Minute)
	require.False(t, fired)
	require.Equal(t, 0, c.Pending())
}

func TestFakeStopAfterFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	count := 0
	timer := c.AfterFunc(time.Second, func() { count++ })

	c.Advance(time.Second)
	require.Equal(t, 1, count)
	require.False(t, timer.Stop())

	c.Advance(time.Hour)
	require.Equal(t, 1, count)
}

func TestFakeActionMaySchedule(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var hits int
	c.AfterFunc(time.Second, func() {
		hits++
		c.AfterFunc(time.Second, func() { hits++ })
	})

	c.Advance(5 * time.Second)
	require.Equal(t, 2, hits)
}

func TestRealClockStop(t *testing.T) {
	done := make(chan struct{})
	timer := Real().AfterFunc(time.Hour, func() { close(done) })
	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
}
