package timer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sabouaram/conserverd/internal/timer"
)

func TestScheduleAbsoluteFiresInOrder(t *testing.T) {
	w := timer.New()
	var fired []int

	base := time.Now()
	w.ScheduleAbsolute(func(arg any) { fired = append(fired, arg.(int)) }, 2, base.Add(20*time.Millisecond))
	w.ScheduleAbsolute(func(arg any) { fired = append(fired, arg.(int)) }, 1, base.Add(10*time.Millisecond))
	w.ScheduleAbsolute(func(arg any) { fired = append(fired, arg.(int)) }, 3, base.Add(30*time.Millisecond))

	w.RunExpired(base.Add(25 * time.Millisecond))

	assert.Equal(t, []int{1, 2}, fired)
	assert.Equal(t, 1, w.Len())
}

func TestCancelPreventsFiring(t *testing.T) {
	w := timer.New()
	fired := false

	id := w.ScheduleRelative(func(arg any) { fired = true }, nil, time.Millisecond)
	assert.True(t, w.Cancel(id))
	assert.False(t, w.Cancel(id), "second cancel of same id must report false")

	w.RunExpired(time.Now().Add(time.Hour))
	assert.False(t, fired)
}

func TestCancelUnknownIDReturnsFalse(t *testing.T) {
	w := timer.New()
	assert.False(t, w.Cancel(timer.ID(999)))
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	w := timer.New()
	var order []int
	deadline := time.Now().Add(time.Millisecond)

	for i := 0; i < 5; i++ {
		i := i
		w.ScheduleAbsolute(func(arg any) { order = append(order, arg.(int)) }, i, deadline)
	}

	w.RunExpired(deadline)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestNextDeadlineSkipsCancelled(t *testing.T) {
	w := timer.New()
	base := time.Now()

	id1 := w.ScheduleAbsolute(func(any) {}, nil, base.Add(time.Millisecond))
	w.ScheduleAbsolute(func(any) {}, nil, base.Add(2*time.Millisecond))

	w.Cancel(id1)

	d, ok := w.NextDeadline()
	assert.True(t, ok)
	assert.WithinDuration(t, base.Add(2*time.Millisecond), d, time.Millisecond)
}

func TestCallbackCanScheduleNewTimer(t *testing.T) {
	w := timer.New()
	count := 0

	var reschedule timer.CallbackFunc
	reschedule = func(arg any) {
		count++
		if count < 3 {
			w.ScheduleRelative(reschedule, nil, time.Millisecond)
		}
	}
	w.ScheduleRelative(reschedule, nil, time.Millisecond)

	for i := 0; i < 3; i++ {
		time.Sleep(2 * time.Millisecond)
		w.RunExpired(time.Now())
	}

	assert.Equal(t, 3, count)
}
