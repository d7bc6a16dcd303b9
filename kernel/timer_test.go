package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerOneShotFiresOnceThenDormant(t *testing.T) {
	k := newTestKernel(4)
	fired := 0
	tm := NewTimer(k, func() { fired++ })
	tm.Start(Duration(100))

	k.Tick(Duration(50))
	assert.Equal(t, 0, fired)
	assert.True(t, tm.IsActive())

	k.Tick(Duration(50))
	assert.Equal(t, 1, fired)
	assert.False(t, tm.IsActive())
}

func TestTimerPeriodicPreservesArrivalTimeAcrossLateFiring(t *testing.T) {
	k := newTestKernel(4)
	var fireCount int
	tm := NewTimer(k, func() { fireCount++ })
	period := Duration(100)
	tm.SetPeriod(&period)
	tm.Start(Duration(100))

	k.Tick(Duration(100)) // now = 100: first firing, on time
	require.Equal(t, 1, fireCount)
	// Next deadline is current-deadline (100) + period (100) = 200, not
	// now (100) + period.
	assert.Equal(t, Instant(200), tm.deadlineWasSet)

	k.Tick(Duration(250)) // now = 350: the 200 deadline is overdue by 150
	// The 200 firing re-arms at 300, which is also <= 350, so it fires in
	// the same tick: two more firings.
	require.Equal(t, 3, fireCount)
	// Arrival time is preserved: next deadline is 300 + 100 = 400, not
	// 350 + 100 = 450.
	assert.Equal(t, Instant(400), tm.deadlineWasSet)
}

func TestTimerSetPeriodOnlyAffectsFiringsAfterTheNext(t *testing.T) {
	k := newTestKernel(4)
	var fireCount int
	tm := NewTimer(k, func() { fireCount++ })
	tm.Start(Duration(100)) // one-shot: period is nil

	longPeriod := Duration(1000)
	tm.SetPeriod(&longPeriod)

	k.Tick(Duration(100))
	require.Equal(t, 1, fireCount)
	assert.True(t, tm.IsActive()) // now periodic, since SetPeriod took effect before the firing
	assert.Equal(t, Instant(1100), tm.deadlineWasSet)
}

func TestTimerSetDelayNilCancelsPendingFiring(t *testing.T) {
	k := newTestKernel(4)
	fired := 0
	tm := NewTimer(k, func() { fired++ })
	tm.Start(Duration(100))
	tm.SetDelay(nil)

	k.Tick(Duration(200))
	assert.Equal(t, 0, fired)
	// SetDelay(nil) removes the pending firing but does not stop the timer.
	assert.True(t, tm.IsActive())
}

func TestTimerStopCancelsPendingFiring(t *testing.T) {
	k := newTestKernel(4)
	fired := 0
	tm := NewTimer(k, func() { fired++ })
	tm.Start(Duration(100))
	tm.Stop()

	k.Tick(Duration(200))
	assert.Equal(t, 0, fired)
}
