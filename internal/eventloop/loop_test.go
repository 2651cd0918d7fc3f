package eventloop

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsCallbacksInOrder(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	var snapshot []int
	l.Do(func() { snapshot = append(snapshot, got...) })

	require.Len(t, snapshot, 100)
	for i, v := range snapshot {
		assert.Equal(t, i, v)
	}
}

func TestLoopStoppedTimerNeverFires(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	var fired atomic.Bool
	l.Do(func() {
		timer := l.AfterFunc(time.Millisecond, func() { fired.Store(true) })
		// Block the loop past the deadline so the expiry is already queued behind us.
		time.Sleep(30 * time.Millisecond)
		assert.True(t, timer.Stop())
	})
	l.Do(func() {})
	assert.False(t, fired.Load())
}

func TestLoopTimerFires(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	done := make(chan struct{})
	l.Post(func() {
		l.AfterFunc(5*time.Millisecond, func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoopBackgroundReentersLoop(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	result := make(chan int, 1)
	var value int
	l.Background(func() { value = 7 }, func() { result <- value })
	select {
	case v := <-result:
		assert.Equal(t, 7, v)
	case <-time.After(2 * time.Second):
		t.Fatal("background completion not delivered")
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	l := New()
	l.Start()
	defer l.Stop()

	l.Post(func() { panic("boom") })
	ran := false
	l.Do(func() { ran = true })
	assert.True(t, ran)
}

func TestLoopPostAfterStopIsDropped(t *testing.T) {
	l := New()
	l.Start()
	l.Stop()
	l.Stop()

	ran := false
	l.Post(func() { ran = true })
	l.Do(func() { ran = true })
	assert.False(t, ran)
}

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	m := NewManual()
	var got []string
	m.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	m.AfterFunc(time.Second, func() { got = append(got, "a") })
	m.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	stopped := m.AfterFunc(2*time.Second, func() { got = append(got, "x") })
	require.True(t, stopped.Stop())
	require.False(t, stopped.Stop())

	start := m.Now()
	m.Advance(2500 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2500*time.Millisecond, m.Now().Sub(start))
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, m.Pending())
}

func TestManualTimerArmedInsideCallback(t *testing.T) {
	m := NewManual()
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(5 * time.Second)
	assert.Equal(t, 5, ticks)
}

func TestManualPostFromCallbackIsQueued(t *testing.T) {
	m := NewManual()
	var got []int
	m.Post(func() {
		m.Post(func() { got = append(got, 2) })
		got = append(got, 1)
	})
	assert.Equal(t, []int{1, 2}, got)
}

func TestStorePublishNotifies(t *testing.T) {
	s := NewStore(1)
	var seen []int
	cancel := s.Subscribe(func(v int) { seen = append(seen, v) })
	s.Publish(2)
	cancel()
	s.Publish(3)

	assert.Equal(t, []int{2}, seen)
	assert.Equal(t, 3, s.Load())
}

func TestObserversCancelDuringNotify(t *testing.T) {
	var o Observers[string]
	var got []string
	var cancelA func()
	cancelA = o.Add(func(v string) {
		got = append(got, "a:"+v)
		cancelA()
	})
	o.Add(func(v string) { got = append(got, "b:"+v) })

	o.Notify("1")
	o.Notify("2")
	assert.Equal(t, []string{"a:1", "b:1", "b:2"}, got)
}
