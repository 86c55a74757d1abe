package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoop(t *testing.T) (*Loop, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	l := New(clock, 8, nil)
	l.Start()
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLoop_SubmitRunsInOrder(t *testing.T) {
	l, _ := newLoop(t)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		require.True(t, l.Submit(func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	l, _ := newLoop(t)

	l.Submit(func() { panic("boom") })
	done := make(chan struct{})
	l.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestLoop_AfterFiresOnClock(t *testing.T) {
	l, clock := newLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var fired atomic.Int32
	l.After(2*time.Second, func() { fired.Add(1) })
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, l.Pending())

	clock.Advance(time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, l.Pending())
}

func TestLoop_AfterZeroFiresImmediately(t *testing.T) {
	l, _ := newLoop(t)

	var fired atomic.Bool
	l.After(0, func() { fired.Store(true) })
	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestLoop_CancelBeforeFire(t *testing.T) {
	l, clock := newLoop(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), time.Second)
	defer cancelCtx()

	var fired atomic.Bool
	cancel := l.After(time.Second, func() { fired.Store(true) })
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	cancel()
	cancel()
	assert.Equal(t, 0, l.Pending())

	clock.Advance(2 * time.Second)
	assert.Never(t, fired.Load, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLoop_CancelAll(t *testing.T) {
	l, clock := newLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var fired atomic.Int32
	l.After(time.Second, func() { fired.Add(1) })
	l.After(3*time.Second, func() { fired.Add(1) })
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	l.CancelAll()
	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return fired.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLoop_StopRejectsWork(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := New(clock, 1, nil)
	l.Start()
	l.Stop()
	l.Stop()

	assert.False(t, l.Submit(func() {}))
	l.After(time.Second, func() {})()
	assert.Equal(t, 0, l.Pending())
}

func TestWait(t *testing.T) {
	clock := clockwork.NewFakeClock()

	t.Run("zero duration returns immediately", func(t *testing.T) {
		assert.NoError(t, Wait(context.Background(), clock, 0))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Wait(ctx, clock, 0), context.Canceled)
	})

	t.Run("returns after the clock advances", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- Wait(context.Background(), clock, 1500*time.Millisecond) }()

		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(1500 * time.Millisecond)
		assert.NoError(t, <-errCh)
	})

	t.Run("context cancellation wins", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- Wait(ctx, clock, time.Hour) }()

		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)
	})
}
