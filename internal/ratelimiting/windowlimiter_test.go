package ratelimiting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockedTime struct {
	lock        sync.Mutex
	currentTime time.Time
	timers      []mockedTimer
}

type mockedTimer struct {
	expiresAt time.Time
	ch        chan time.Time
}

func newMockedTime(start time.Time) *mockedTime {
	return &mockedTime{currentTime: start}
}

func (m *mockedTime) Now() time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.currentTime
}

func (m *mockedTime) After(d time.Duration) <-chan time.Time {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch := make(chan time.Time, 1)
	m.timers = append(m.timers, mockedTimer{
		expiresAt: m.currentTime.Add(d),
		ch:        ch,
	})
	return ch
}

func (m *mockedTime) pendingTimers() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.timers)
}

func (m *mockedTime) advance(d time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.currentTime = m.currentTime.Add(d)

	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if !m.currentTime.Before(timer.expiresAt) {
			timer.ch <- m.currentTime
			continue
		}
		remaining = append(remaining, timer)
	}
	m.timers = remaining
}

func TestWindowLimiter(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	const waitFor = 2 * time.Second
	const tick = time.Millisecond

	t.Run("first operations run immediately", func(t *testing.T) {
		t.Parallel()

		mocked := newMockedTime(start)
		l := NewWindowLimiter(3, time.Second, mocked.Now, mocked.After)

		ran := 0
		for range 3 {
			require.True(t, l.Limit(t.Context(), time.Second, func(ctx context.Context) {
				ran++
			}))
		}
		require.Equal(t, 3, ran)
		require.Equal(t, 0, mocked.pendingTimers())
	})

	t.Run("waits for the window to pass", func(t *testing.T) {
		t.Parallel()

		mocked := newMockedTime(start)
		l := NewWindowLimiter(2, time.Second, mocked.Now, mocked.After)

		for range 2 {
			require.True(t, l.Limit(t.Context(), time.Second, func(ctx context.Context) {}))
		}

		var ran atomic.Bool
		done := make(chan bool)
		go func() {
			done <- l.Limit(t.Context(), time.Second, func(ctx context.Context) {
				ran.Store(true)
			})
		}()

		require.Eventually(t, func() bool { return mocked.pendingTimers() == 1 }, waitFor, tick)
		require.False(t, ran.Load())

		mocked.advance(500 * time.Millisecond)
		require.False(t, ran.Load())

		mocked.advance(500 * time.Millisecond)
		require.True(t, <-done)
		require.True(t, ran.Load())
	})

	t.Run("rejects when the deadline is too close", func(t *testing.T) {
		t.Parallel()

		mocked := newMockedTime(start)
		l := NewWindowLimiter(1, time.Minute, mocked.Now, mocked.After)
		require.True(t, l.Limit(t.Context(), time.Second, func(ctx context.Context) {}))

		ctx, cancel := context.WithDeadline(t.Context(), start.Add(30*time.Second))
		defer cancel()

		ran := false
		require.False(t, l.Limit(ctx, time.Second, func(ctx context.Context) {
			ran = true
		}))
		require.False(t, ran)
		require.Equal(t, 0, mocked.pendingTimers())
	})

	t.Run("cancelled wait gives back capacity", func(t *testing.T) {
		t.Parallel()

		mocked := newMockedTime(start)
		l := NewWindowLimiter(1, time.Second, mocked.Now, mocked.After)
		require.True(t, l.Limit(t.Context(), time.Second, func(ctx context.Context) {}))

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan bool)
		go func() {
			done <- l.Limit(ctx, time.Second, func(ctx context.Context) {
				t.Error("operation should not run")
			})
		}()
		require.Eventually(t, func() bool { return mocked.pendingTimers() == 1 }, waitFor, tick)
		cancel()
		require.False(t, <-done)

		mocked.advance(time.Second)
		ran := false
		require.True(t, l.Limit(t.Context(), time.Second, func(ctx context.Context) {
			ran = true
		}))
		require.True(t, ran)
	})

	t.Run("done context", func(t *testing.T) {
		t.Parallel()

		mocked := newMockedTime(start)
		l := NewWindowLimiter(1, time.Second, mocked.Now, mocked.After)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		// Either the slot or the cancellation may be selected first, but a
		// free slot with no wait runs the operation
		ran := false
		ok := l.Limit(ctx, time.Second, func(ctx context.Context) {
			ran = true
		})
		require.Equal(t, ok, ran)
	})
}
