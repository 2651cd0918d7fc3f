package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDelayDoublesAndCaps(t *testing.T) {
	var got []time.Duration
	for attempt := 1; ; attempt++ {
		d, ok := Reconnect.Delay(attempt)
		if !ok {
			break
		}
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
	}, got)
}

func TestPolicyDelayRejectsOutOfRange(t *testing.T) {
	_, ok := Reconnect.Delay(0)
	assert.False(t, ok)
	_, ok = Reconnect.Delay(6)
	assert.False(t, ok)
}

func TestOnceAllowsSingleRetry(t *testing.T) {
	p := Once(time.Second)
	d, ok := p.Delay(1)
	require.True(t, ok)
	assert.Equal(t, time.Second, d)
	_, ok = p.Delay(2)
	assert.False(t, ok)
}

func TestUnboundedPolicy(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 8 * time.Millisecond, Multiplier: 2}
	d, ok := p.Delay(100)
	require.True(t, ok)
	assert.Equal(t, 8*time.Millisecond, d)
}

func TestDoStopsOnSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
	calls := 0
	var retried []int
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("down")
		}
		return nil
	}, func(attempt int, _ time.Duration, _ error) { retried = append(retried, attempt) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 1}
	down := errors.New("down")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return down
	}, nil)

	assert.ErrorIs(t, err, down)
	assert.Equal(t, 3, calls)
}

func TestDoHonoursContext(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, func(context.Context) error { return errors.New("down") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
