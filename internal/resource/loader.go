package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
)

type Option[T any] func(*Loader[T])

func WithOnSuccess[T any](onSuccess func(T)) Option[T] {
	return func(l *Loader[T]) {
		l.onSuccess = onSuccess
	}
}

func WithOnError[T any](onError func(ErrorInfo)) Option[T] {
	return func(l *Loader[T]) {
		l.onError = onError
	}
}

func WithObserver[T any](observer Observer[T]) Option[T] {
	return func(l *Loader[T]) {
		l.observers[l.nextObserverID] = observer
		l.nextObserverID++
	}
}

func WithNowFunc[T any](nowFunc func() time.Time) Option[T] {
	return func(l *Loader[T]) {
		l.nowFunc = nowFunc
	}
}

// Loader manages fetching a single resource.
//
// Observers and callbacks are called in the order the state changed. They must
// not call Refetch or SetKey synchronously.
type Loader[T any] struct {
	retrieve  Retriever[T]
	onSuccess func(T)
	onError   func(ErrorInfo)
	nowFunc   func() time.Time

	// Held while applying a transition and notifying about it, taken before mu
	notifyMu sync.Mutex

	mu             sync.Mutex
	state          State[T]
	current        request
	observers      map[uint64]Observer[T]
	nextObserverID uint64
}

// New creates a loader for key and starts fetching it in the background.
func New[T any](ctx context.Context, key string, retrieve Retriever[T], opts ...Option[T]) *Loader[T] {
	l := &Loader[T]{
		retrieve:  retrieve,
		nowFunc:   time.Now,
		state:     State[T]{Key: key},
		observers: make(map[uint64]Observer[T]),
	}
	for _, opt := range opts {
		opt(l)
	}

	req := l.begin(key)
	go l.fetch(ctx, req)

	return l
}

func (l *Loader[T]) State() State[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state
}

func (l *Loader[T]) Key() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state.Key
}

// Subscribe registers an observer for all following state transitions.
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

// Refetch resets the state, fetches the current key again and waits for the
// result.
func (l *Loader[T]) Refetch(ctx context.Context) Result[T] {
	req := l.begin(l.Key())
	return l.fetch(ctx, req)
}

// SetKey starts fetching key in the background if it differs from the current
// key. Any response still outstanding for the old key is discarded.
func (l *Loader[T]) SetKey(ctx context.Context, key string) (KeyChanged, bool) {
	oldKey := l.Key()
	if oldKey == key {
		return KeyChanged{}, false
	}

	event := KeyChanged{Old: oldKey, New: key}
	logging.FromContext(ctx).InfoContext(ctx, "Resource key changed", slog.String("old", event.Old), slog.String("new", event.New))

	req := l.begin(key)
	go l.fetch(ctx, req)

	return event, true
}

// Await blocks until the most recently started request has settled.
func (l *Loader[T]) Await(ctx context.Context) (State[T], error) {
	for {
		l.mu.Lock()
		current := l.current
		l.mu.Unlock()

		select {
		case <-current.settled:
		case <-ctx.Done():
			return State[T]{}, ctx.Err()
		}

		l.mu.Lock()
		if l.current.generation == current.generation {
			state := l.state
			l.mu.Unlock()
			return state, nil
		}
		l.mu.Unlock()
	}
}

func (l *Loader[T]) begin(key string) request {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	req := request{
		key:        key,
		generation: l.current.generation + 1,
		startedAt:  l.nowFunc(),
		settled:    make(chan struct{}),
	}
	l.current = req
	l.state = State[T]{Key: key, Loading: true}
	state := l.state
	observers := l.observerList()
	l.mu.Unlock()

	for _, observer := range observers {
		observer(state)
	}

	return req
}

func (l *Loader[T]) fetch(ctx context.Context, req request) Result[T] {
	defer close(req.settled)

	logger := logging.FromContext(ctx).With(
		slog.String("key", req.key),
		slog.Uint64("generation", req.generation),
	)
	logger.DebugContext(ctx, "Fetching resource")

	value, err := l.safeRetrieve(ctx, req.key)
	errorInfo := NewErrorInfo(err)

	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	l.mu.Lock()
	if l.current.generation != req.generation {
		l.mu.Unlock()
		logger.InfoContext(ctx, "Discarding superseded response", slog.Duration("elapsed", l.nowFunc().Sub(req.startedAt)))
		return Result[T]{Value: value, Err: errorInfo, Superseded: true}
	}

	if errorInfo != nil {
		l.state = State[T]{Key: req.key, Err: errorInfo}
	} else {
		l.state = State[T]{Key: req.key, Data: value, HasData: true}
	}
	state := l.state
	observers := l.observerList()
	l.mu.Unlock()

	for _, observer := range observers {
		observer(state)
	}

	if errorInfo != nil {
		logger.InfoContext(ctx, "Failed to fetch resource", slog.String("error", errorInfo.Message))
		if l.onError != nil {
			l.onError(*errorInfo)
		}
		return Result[T]{Err: errorInfo}
	}

	if l.onSuccess != nil {
		l.onSuccess(value)
	}
	return Result[T]{Value: value}
}

func (l *Loader[T]) safeRetrieve(ctx context.Context, key string) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retrieval of %s panicked: %v", key, r)
			reporting.Report(ctx, err)
		}
	}()

	return l.retrieve(ctx, key)
}

// observerList must be called with mu held
func (l *Loader[T]) observerList() []Observer[T] {
	observers := make([]Observer[T], 0, len(l.observers))
	for _, observer := range l.observers {
		observers = append(observers, observer)
	}
	return observers
}
