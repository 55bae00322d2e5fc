package swr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/resource"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Observer[T any] func(State[T])

// Loader is one consumer of a key in a Cache.
type Loader[T any] struct {
	cache  *Cache[T]
	config Config

	mu                    sync.Mutex
	key                   string
	unsubscribe           func()
	lastFocusRevalidation time.Time
	observers             map[uint64]Observer[T]
	nextObserverID        uint64
	closed                bool
}

// New subscribes to key in cache and revalidates it, honoring the deduping
// interval.
func New[T any](ctx context.Context, cache *Cache[T], key string, opts ...Option) *Loader[T] {
	l := &Loader[T]{
		cache:     cache,
		config:    NewConfig(opts...),
		key:       key,
		observers: make(map[uint64]Observer[T]),
	}
	l.unsubscribe = cache.Subscribe(key, l.dispatch)

	l.revalidate(ctx, "mount")

	return l
}

func (l *Loader[T]) Key() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.key
}

func (l *Loader[T]) Config() Config {
	return l.config
}

func (l *Loader[T]) State() State[T] {
	return l.cache.State(l.Key())
}

// Await blocks until no retrieval is in flight for the loader's key.
func (l *Loader[T]) Await(ctx context.Context) (State[T], error) {
	return l.cache.await(ctx, l.Key())
}

// Subscribe registers an observer that is pushed every state of the loader's
// current key.
func (l *Loader[T]) Subscribe(observer Observer[T]) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextObserverID
	l.nextObserverID++
	l.observers[id] = observer

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.observers, id)
	}
}

// Mutate forces a new retrieval of the current key, updating every consumer
// of the key, and waits for it to settle.
func (l *Loader[T]) Mutate(ctx context.Context) resource.Result[T] {
	key := l.Key()
	metrics.revalidationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", "mutate")))

	p := l.cache.revalidate(ctx, key, true, 0)
	value, superseded, err := l.cache.wait(ctx, key, p)

	return resource.Result[T]{
		Value:      value,
		Err:        resource.NewErrorInfo(err),
		Superseded: superseded,
	}
}

// OnFocus revalidates when the consuming surface regains focus. Returns false
// when disabled or throttled.
func (l *Loader[T]) OnFocus(ctx context.Context) bool {
	if !l.config.RevalidateOnFocus {
		return false
	}

	now := l.cache.config.nowFunc()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if !l.lastFocusRevalidation.IsZero() && now.Sub(l.lastFocusRevalidation) < l.config.FocusThrottleInterval {
		l.mu.Unlock()
		logging.FromContext(ctx).DebugContext(ctx, "Throttled focus revalidation", slog.String("key", l.key))
		return false
	}
	l.lastFocusRevalidation = now
	l.mu.Unlock()

	l.revalidate(ctx, "focus")
	return true
}

// OnReconnect revalidates when the network connection is restored. Returns
// false when disabled.
func (l *Loader[T]) OnReconnect(ctx context.Context) bool {
	if !l.config.RevalidateOnReconnect {
		return false
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return false
	}

	l.revalidate(ctx, "reconnect")
	return true
}

// SetKey moves the loader to key if it differs from the current one.
func (l *Loader[T]) SetKey(ctx context.Context, key string) (resource.KeyChanged, bool) {
	l.mu.Lock()
	if l.closed || l.key == key {
		l.mu.Unlock()
		return resource.KeyChanged{}, false
	}

	event := resource.KeyChanged{Old: l.key, New: key}
	l.unsubscribe()
	l.key = key
	l.unsubscribe = l.cache.Subscribe(key, l.dispatch)
	l.mu.Unlock()

	logging.FromContext(ctx).InfoContext(ctx, "Loader key changed", slog.String("old", event.Old), slog.String("new", event.New))

	// Observers see the new key right away, even if it is served from cache
	l.dispatch(l.cache.State(key))
	l.revalidate(ctx, "key_changed")

	return event, true
}

// Close stops the loader from receiving updates.
func (l *Loader[T]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	l.unsubscribe()
	clear(l.observers)
}

func (l *Loader[T]) revalidate(ctx context.Context, trigger string) {
	metrics.revalidationCount.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	l.cache.revalidate(ctx, l.Key(), false, l.config.DedupingInterval)
}

func (l *Loader[T]) dispatch(state State[T]) {
	l.mu.Lock()
	if state.Key != l.key {
		l.mu.Unlock()
		return
	}
	observers := make([]Observer[T], 0, len(l.observers))
	for _, observer := range l.observers {
		observers = append(observers, observer)
	}
	l.mu.Unlock()

	for _, observer := range observers {
		observer(state)
	}
}
