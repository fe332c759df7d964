package loop

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(t *testing.T, tick TickFunc, release func()) (*Driver, *FrameClock) {
	t.Helper()
	clock := NewFrameClock()
	d, err := NewDriver(Config{
		Scheduler: clock,
		Tick:      tick,
		Release:   release,
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return d, clock
}

func TestFrameClockDefersRequestsMadeDuringFlush(t *testing.T) {
	clock := NewFrameClock()
	var order []int
	clock.RequestFrame(func(time.Time) {
		order = append(order, 1)
		clock.RequestFrame(func(time.Time) { order = append(order, 3) })
	})
	clock.RequestFrame(func(time.Time) { order = append(order, 2) })

	assert.Equal(t, 2, clock.Flush(time.Now()))
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 1, clock.Pending())

	assert.Equal(t, 1, clock.Flush(time.Now()))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFrameClockCancel(t *testing.T) {
	clock := NewFrameClock()
	ran := false
	id := clock.RequestFrame(func(time.Time) { ran = true })
	clock.CancelFrame(id)
	clock.CancelFrame(id)

	assert.Equal(t, 0, clock.Flush(time.Now()))
	assert.False(t, ran)
}

func TestDriverTicksInScheduledOrder(t *testing.T) {
	var seen []uint64
	var d *Driver
	d, clock := newTestDriver(t, func(time.Time) error {
		seen = append(seen, d.Ticks())
		return nil
	}, nil)

	d.Start()
	for i := 0; i < 25; i++ {
		require.Equal(t, 1, clock.Flush(time.Now()), "exactly one tick per flush")
	}

	require.Len(t, seen, 25)
	for i := 1; i < len(seen); i++ {
		assert.Equal(t, seen[i-1]+1, seen[i])
	}
}

func TestDriverPauseCancelsPendingTick(t *testing.T) {
	ticks := 0
	d, clock := newTestDriver(t, func(time.Time) error {
		ticks++
		return nil
	}, nil)

	d.Start()
	clock.Flush(time.Now())
	d.Pause()
	assert.Equal(t, Paused, d.State())
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, 0, clock.Flush(time.Now()))
	assert.Equal(t, 1, ticks)

	d.Start()
	clock.Flush(time.Now())
	assert.Equal(t, 2, ticks)
}

func TestDriverStopIsIdempotent(t *testing.T) {
	releases := 0
	d, clock := newTestDriver(t, func(time.Time) error { return nil }, func() { releases++ })

	d.Stop()
	assert.Equal(t, Idle, d.State(), "stop before start keeps the loop idle")
	assert.Equal(t, 0, releases)

	d.Start()
	d.Stop()
	d.Stop()
	assert.Equal(t, Stopped, d.State())
	assert.Equal(t, 1, releases)
	assert.Equal(t, 0, clock.Pending())
}

func TestDriverSurvivesTickErrorsAndPanics(t *testing.T) {
	calls := 0
	d, clock := newTestDriver(t, func(time.Time) error {
		calls++
		switch calls {
		case 1:
			return errors.New("zero-sized canvas")
		case 2:
			panic("boom")
		}
		return nil
	}, nil)

	d.Start()
	for i := 0; i < 3; i++ {
		clock.Flush(time.Now())
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, uint64(2), d.Failures())
	assert.Equal(t, Running, d.State())
}

func TestDriverStopFromInsideTick(t *testing.T) {
	var d *Driver
	d, clock := newTestDriver(t, func(time.Time) error {
		d.Stop()
		return nil
	}, nil)

	d.Start()
	clock.Flush(time.Now())
	assert.Equal(t, Stopped, d.State())
	assert.Equal(t, 0, clock.Pending())
}

func TestDriverTickWhenNotRunning(t *testing.T) {
	d, _ := newTestDriver(t, func(time.Time) error { return nil }, nil)
	assert.ErrorIs(t, d.Tick(time.Now()), ErrNotRunning)
}

func TestStaleCallbackIgnoredAfterRestart(t *testing.T) {
	ticks := 0
	d, clock := newTestDriver(t, func(time.Time) error {
		ticks++
		return nil
	}, nil)

	d.Start()
	d.Pause()
	d.Start()
	// only the callback from the second start is live
	assert.Equal(t, 1, clock.Flush(time.Now()))
	assert.Equal(t, 1, ticks)
}
