package swr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Amund211/flashfetch/internal/resource"
	"github.com/stretchr/testify/require"
)

type stateRecorder[T any] struct {
	mu     sync.Mutex
	states []State[T]
}

func (r *stateRecorder[T]) observe(state State[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder[T]) last() State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return State[T]{}
	}
	return r.states[len(r.states)-1]
}

func TestLoader(t *testing.T) {
	t.Parallel()

	t.Run("users resolve", func(t *testing.T) {
		t.Parallel()

		cache := NewCache(func(ctx context.Context, key string) ([]user, error) {
			return ann, nil
		})
		l := New(t.Context(), cache, "/users")

		state, err := l.Await(t.Context())
		require.NoError(t, err)
		require.Equal(t, State[[]user]{Key: "/users", Data: ann, HasData: true}, state)
		require.False(t, state.IsError())
	})

	t.Run("users fail", func(t *testing.T) {
		t.Parallel()

		cache := NewCache(func(ctx context.Context, key string) ([]user, error) {
			return nil, errors.New("network down")
		})
		l := New(t.Context(), cache, "/users")

		state, err := l.Await(t.Context())
		require.NoError(t, err)
		require.Equal(t, State[[]user]{
			Key: "/users",
			Err: &resource.ErrorInfo{Message: "network down"},
		}, state)
		require.True(t, state.IsError())
		require.False(t, state.HasData)
	})

	t.Run("loaders mounted together share one retrieval", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		retriever := &countingRetriever[[]user]{fn: func(ctx context.Context, key string) ([]user, error) {
			<-release
			return ann, nil
		}}
		cache := NewCache(retriever.retrieve)

		loaders := make([]*Loader[[]user], 5)
		recorders := make([]*stateRecorder[[]user], 5)
		for i := range loaders {
			loaders[i] = New(t.Context(), cache, "/users")
			recorders[i] = &stateRecorder[[]user]{}
			loaders[i].Subscribe(recorders[i].observe)
		}
		close(release)

		for i, l := range loaders {
			state, err := l.Await(t.Context())
			require.NoError(t, err)
			require.Equal(t, ann, state.Data)
			require.Equal(t, State[[]user]{Key: "/users", Data: ann, HasData: true}, recorders[i].last())
		}
		require.Equal(t, int32(1), retriever.calls.Load())
	})

	t.Run("mutate is idempotent for deterministic retrievers", func(t *testing.T) {
		t.Parallel()

		retriever := &countingRetriever[[]user]{fn: func(ctx context.Context, key string) ([]user, error) {
			return ann, nil
		}}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "/users")

		first, err := l.Await(t.Context())
		require.NoError(t, err)

		result := l.Mutate(t.Context())
		require.True(t, result.OK())
		require.Equal(t, ann, result.Value)
		require.Equal(t, first, l.State())
		require.Equal(t, int32(2), retriever.calls.Load())
	})

	t.Run("failed mutate keeps stale data", func(t *testing.T) {
		t.Parallel()

		retriever := &countingRetriever[[]user]{}
		retriever.fn = func(ctx context.Context, key string) ([]user, error) {
			if retriever.calls.Load() == 1 {
				return ann, nil
			}
			return nil, errors.New("network down")
		}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "/users")
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		result := l.Mutate(t.Context())
		require.False(t, result.OK())
		require.Equal(t, &resource.ErrorInfo{Message: "network down"}, result.Err)

		require.Equal(t, State[[]user]{
			Key:     "/users",
			Data:    ann,
			HasData: true,
			Err:     &resource.ErrorInfo{Message: "network down"},
		}, l.State())
	})

	t.Run("stale data is visible while revalidating", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		retriever := &countingRetriever[string]{}
		retriever.fn = func(ctx context.Context, key string) (string, error) {
			if retriever.calls.Load() == 2 {
				<-release
				return "B", nil
			}
			return "A", nil
		}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "k")
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		done := make(chan resource.Result[string])
		go func() {
			done <- l.Mutate(t.Context())
		}()
		require.Eventually(t, func() bool { return l.State().IsLoading }, waitFor, tick)
		require.Equal(t, State[string]{Key: "k", Data: "A", HasData: true, IsLoading: true}, l.State())

		close(release)
		result := <-done
		require.Equal(t, resource.Result[string]{Value: "B"}, result)
		require.Equal(t, State[string]{Key: "k", Data: "B", HasData: true}, l.State())
	})

	t.Run("superseded mutate reports superseded", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		retriever := &countingRetriever[string]{}
		retriever.fn = func(ctx context.Context, key string) (string, error) {
			if retriever.calls.Load() == 2 {
				<-release
				return "old", nil
			}
			return "new", nil
		}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "k")
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		done := make(chan resource.Result[string])
		go func() {
			done <- l.Mutate(t.Context())
		}()
		require.Eventually(t, func() bool { return retriever.calls.Load() == 2 }, waitFor, tick)

		latest := l.Mutate(t.Context())
		require.Equal(t, resource.Result[string]{Value: "new"}, latest)

		close(release)
		result := <-done
		require.True(t, result.Superseded)
		require.Equal(t, State[string]{Key: "k", Data: "new", HasData: true}, l.State())
	})

	t.Run("set key", func(t *testing.T) {
		t.Parallel()

		cache := NewCache(func(ctx context.Context, key string) (string, error) {
			return "data for " + key, nil
		})
		l := New(t.Context(), cache, "k1")
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		recorder := &stateRecorder[string]{}
		l.Subscribe(recorder.observe)

		_, changed := l.SetKey(t.Context(), "k1")
		require.False(t, changed)

		event, changed := l.SetKey(t.Context(), "k2")
		require.True(t, changed)
		require.Equal(t, resource.KeyChanged{Old: "k1", New: "k2"}, event)
		require.Equal(t, "k2", l.Key())

		state, err := l.Await(t.Context())
		require.NoError(t, err)
		require.Equal(t, State[string]{Key: "k2", Data: "data for k2", HasData: true}, state)
		require.Equal(t, state, recorder.last())

		// Updates to the old key no longer reach the loader
		_, err = cache.Mutate(t.Context(), "k1")
		require.NoError(t, err)
		require.Equal(t, state, recorder.last())
	})

	t.Run("closed loader ignores triggers", func(t *testing.T) {
		t.Parallel()

		retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
			return key, nil
		}}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "k", WithDedupingInterval(0))
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		l.Close()
		require.False(t, l.OnFocus(t.Context()))
		require.False(t, l.OnReconnect(t.Context()))
		_, changed := l.SetKey(t.Context(), "other")
		require.False(t, changed)
		require.Equal(t, int32(1), retriever.calls.Load())
	})
}

func TestLoaderFocus(t *testing.T) {
	t.Parallel()

	t.Run("throttled", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
			return key, nil
		}}
		cache := NewCache(retriever.retrieve, WithNowFunc(clock.Now))
		l := New(t.Context(), cache, "k", WithDedupingInterval(0))
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		require.True(t, l.OnFocus(t.Context()))
		_, err = l.Await(t.Context())
		require.NoError(t, err)
		require.Equal(t, int32(2), retriever.calls.Load())

		clock.Advance(time.Minute)
		require.False(t, l.OnFocus(t.Context()))
		require.Equal(t, int32(2), retriever.calls.Load())

		clock.Advance(DefaultFocusThrottleInterval)
		require.True(t, l.OnFocus(t.Context()))
		_, err = l.Await(t.Context())
		require.NoError(t, err)
		require.Equal(t, int32(3), retriever.calls.Load())
	})

	t.Run("deduplicated within the deduping interval", func(t *testing.T) {
		t.Parallel()

		clock := newFakeClock()
		retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
			return key, nil
		}}
		cache := NewCache(retriever.retrieve, WithNowFunc(clock.Now))
		l := New(t.Context(), cache, "k")
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		require.True(t, l.OnFocus(t.Context()))
		require.Equal(t, int32(1), retriever.calls.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
			return key, nil
		}}
		cache := NewCache(retriever.retrieve)
		l := New(t.Context(), cache, "k", WithRevalidateOnFocus(false), WithDedupingInterval(0))
		_, err := l.Await(t.Context())
		require.NoError(t, err)

		require.False(t, l.OnFocus(t.Context()))
		require.Equal(t, int32(1), retriever.calls.Load())
	})
}

func TestLoaderReconnect(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{true, false} {
		t.Run(map[bool]string{true: "enabled", false: "disabled"}[enabled], func(t *testing.T) {
			t.Parallel()

			retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
				return key, nil
			}}
			cache := NewCache(retriever.retrieve)
			l := New(t.Context(), cache, "k", WithRevalidateOnReconnect(enabled), WithDedupingInterval(0))
			_, err := l.Await(t.Context())
			require.NoError(t, err)

			require.Equal(t, enabled, l.OnReconnect(t.Context()))
			_, err = l.Await(t.Context())
			require.NoError(t, err)

			expectedCalls := int32(1)
			if enabled {
				expectedCalls = 2
			}
			require.Equal(t, expectedCalls, retriever.calls.Load())
		})
	}
}

type fakeRevalidatable struct {
	focus     atomic.Int32
	reconnect atomic.Int32
	result    bool
}

func (f *fakeRevalidatable) OnFocus(ctx context.Context) bool {
	f.focus.Add(1)
	return f.result
}

func (f *fakeRevalidatable) OnReconnect(ctx context.Context) bool {
	f.reconnect.Add(1)
	return f.result
}

func TestTriggers(t *testing.T) {
	t.Parallel()

	triggers := NewTriggers()
	a := &fakeRevalidatable{result: true}
	b := &fakeRevalidatable{result: false}
	triggers.Register(a)
	unregisterB := triggers.Register(b)

	require.Equal(t, 1, triggers.Focus(t.Context()))
	require.Equal(t, 1, triggers.Reconnect(t.Context()))
	require.Equal(t, int32(1), a.focus.Load())
	require.Equal(t, int32(1), b.focus.Load())
	require.Equal(t, int32(1), b.reconnect.Load())

	unregisterB()
	require.Equal(t, 1, triggers.Focus(t.Context()))
	require.Equal(t, int32(2), a.focus.Load())
	require.Equal(t, int32(1), b.focus.Load())

	t.Run("with loaders", func(t *testing.T) {
		t.Parallel()

		retriever := &countingRetriever[string]{fn: func(ctx context.Context, key string) (string, error) {
			return key, nil
		}}
		cache := NewCache(retriever.retrieve)
		triggers := NewTriggers()
		for _, key := range []string{"a", "b"} {
			l := New(t.Context(), cache, key, WithDedupingInterval(0))
			_, err := l.Await(t.Context())
			require.NoError(t, err)
			triggers.Register(l)
		}

		require.Equal(t, 2, triggers.Reconnect(t.Context()))
		require.Eventually(t, func() bool { return retriever.calls.Load() == 4 }, waitFor, tick)
	})
}
