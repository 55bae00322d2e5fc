package swr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Amund211/flashfetch/internal/logging"
	"github.com/Amund211/flashfetch/internal/reporting"
	"github.com/Amund211/flashfetch/internal/resource"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// State is what a consumer of a key observes.
//
// Data is kept while a revalidation is in flight and when it fails. HasData is
// only false until the first successful retrieval of the key.
type State[T any] struct {
	Key       string
	Data      T
	HasData   bool
	IsLoading bool
	Err       *resource.ErrorInfo
}

func (s State[T]) IsError() bool {
	return s.Err != nil
}

type entry[T any] struct {
	value         T
	hasValue      bool
	err           *resource.ErrorInfo
	lastFetchedAt time.Time
	// The error err was built from, returned to callers served from the entry
	cause error

	// Bookkeeping for the most recently initiated retrieval
	startedAt time.Time
	inFlight  bool
	seq       uint64
	settled   chan struct{}

	subscribers map[uint64]func(State[T])
}

func (e *entry[T]) state(key string) State[T] {
	return State[T]{
		Key:       key,
		Data:      e.value,
		HasData:   e.hasValue,
		IsLoading: e.inFlight,
		Err:       e.err,
	}
}

func (e *entry[T]) subscriberList() []func(State[T]) {
	subscribers := make([]func(State[T]), 0, len(e.subscribers))
	for _, subscriber := range e.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	return subscribers
}

// Cache is shared by every Loader of the same resource type.
//
// Create one at startup and pass it to the loaders that need it. Entries live
// until they are overwritten by a newer retrieval or the cache is closed.
// Subscribers are called with the cache's notification lock held and must not
// trigger revalidations synchronously.
type Cache[T any] struct {
	retrieve resource.Retriever[T]
	config   cacheConfig
	group    singleflight.Group

	// Taken before mu. Serializes transitions with their notifications so
	// subscribers see states in the order they were applied.
	notifyMu sync.Mutex

	mu               sync.Mutex
	entries          map[string]*entry[T]
	nextSubscriberID uint64
	// Sequence numbers are unique per cache so entries recreated after Close
	// can't match a retrieval that was started before it
	lastSeq uint64
}

func NewCache[T any](retrieve resource.Retriever[T], opts ...CacheOption) *Cache[T] {
	config := cacheConfig{
		nowFunc:          time.Now,
		retrievalTimeout: DefaultRetrievalTimeout,
		name:             "default",
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &Cache[T]{
		retrieve: retrieve,
		config:   config,
		entries:  make(map[string]*entry[T]),
	}
}

type pending struct {
	ch  <-chan singleflight.Result
	seq uint64
}

// Get returns the value for key.
//
// A cached value is returned immediately, and revalidated in the background
// if it was retrieved outside the deduping interval. Without a cached value
// Get waits for the (possibly shared) retrieval.
func (c *Cache[T]) Get(ctx context.Context, key string, opts ...Option) (T, error) {
	config := NewConfig(opts...)

	p := c.revalidate(ctx, key, false, config.DedupingInterval)

	state := c.State(key)
	if state.HasData {
		return state.Data, nil
	}

	value, _, err := c.wait(ctx, key, p)
	return value, err
}

// Mutate starts a new retrieval for key regardless of the deduping interval
// and waits for it.
func (c *Cache[T]) Mutate(ctx context.Context, key string) (T, error) {
	p := c.revalidate(ctx, key, true, 0)
	value, _, err := c.wait(ctx, key, p)
	return value, err
}

func (c *Cache[T]) State(key string) State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return State[T]{Key: key}
	}
	return e.state(key)
}

// settledState returns the state of key along with the error its last
// retrieval failed with
func (c *Cache[T]) settledState(key string) (State[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return State[T]{Key: key}, nil
	}
	return e.state(key), e.cause
}

// Subscribe calls subscriber with every state key transitions to
func (c *Cache[T]) Subscribe(key string, subscriber func(State[T])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubscriberID
	c.nextSubscriberID++
	c.entryLocked(key).subscribers[id] = subscriber

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if e, ok := c.entries[key]; ok {
			delete(e.subscribers, id)
		}
	}
}

// Close drops every entry and subscriber. Retrievals still in flight settle
// without effect.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// await blocks until no retrieval is in flight for key
func (c *Cache[T]) await(ctx context.Context, key string) (State[T], error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok || !e.inFlight {
			state := State[T]{Key: key}
			if ok {
				state = e.state(key)
			}
			c.mu.Unlock()
			return state, nil
		}
		settled := e.settled
		c.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return State[T]{}, ctx.Err()
		}
	}
}

// entryLocked must be called with mu held
func (c *Cache[T]) entryLocked(key string) *entry[T] {
	e, ok := c.entries[key]
	if !ok {
		e = &entry[T]{subscribers: make(map[uint64]func(State[T]))}
		c.entries[key] = e
	}
	return e
}

func (c *Cache[T]) revalidate(ctx context.Context, key string, force bool, dedupingInterval time.Duration) pending {
	attributes := metric.WithAttributes(attribute.String("cache", c.config.name))

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	e := c.entryLocked(key)
	now := c.config.nowFunc()

	if !force && e.inFlight {
		defer c.mu.Unlock()

		// Joins the call registered for e.seq, however long it has been running
		metrics.dedupCount.Add(ctx, 1, attributes)
		return pending{ch: c.group.DoChan(key, c.retrieval(ctx, key, e.seq, nil)), seq: e.seq}
	}

	if !force && !e.startedAt.IsZero() && now.Sub(e.startedAt) < dedupingInterval {
		defer c.mu.Unlock()

		metrics.dedupCount.Add(ctx, 1, attributes)
		return pending{seq: e.seq}
	}

	// A forced retrieval replaces the one in flight, if any
	c.group.Forget(key)

	c.lastSeq++
	e.seq = c.lastSeq
	e.startedAt = now
	e.inFlight = true
	e.err = nil
	e.cause = nil
	e.settled = make(chan struct{})

	p := pending{
		ch:  c.group.DoChan(key, c.retrieval(ctx, key, e.seq, e.settled)),
		seq: e.seq,
	}
	state := e.state(key)
	subscribers := e.subscriberList()
	c.mu.Unlock()

	metrics.retrievalCount.Add(ctx, 1, attributes)
	logging.FromContext(ctx).DebugContext(ctx, "Started retrieval", slog.String("key", key), slog.Uint64("seq", p.seq))

	for _, subscriber := range subscribers {
		subscriber(state)
	}

	return p
}

func (c *Cache[T]) retrieval(ctx context.Context, key string, seq uint64, settled chan struct{}) func() (any, error) {
	return func() (any, error) {
		if settled != nil {
			defer close(settled)
		}

		// The retrieval is shared, so it must outlive the caller that started it
		retrieveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.retrievalTimeout)
		defer cancel()

		value, err := c.safeRetrieve(retrieveCtx, key)
		c.settle(ctx, key, seq, value, err)

		return value, err
	}
}

func (c *Cache[T]) safeRetrieve(ctx context.Context, key string) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("retrieval of %s panicked: %v", key, r)
			reporting.Report(ctx, err)
		}
	}()

	return c.retrieve(ctx, key)
}

func (c *Cache[T]) settle(ctx context.Context, key string, seq uint64, value T, err error) {
	logger := logging.FromContext(ctx).With(slog.String("key", key), slog.Uint64("seq", seq))

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.seq != seq {
		c.mu.Unlock()
		metrics.supersededCount.Add(ctx, 1, metric.WithAttributes(attribute.String("cache", c.config.name)))
		logger.InfoContext(ctx, "Discarding superseded retrieval")
		return
	}

	e.inFlight = false
	if err != nil {
		// Keep the last good value visible next to the error
		e.err = resource.NewErrorInfo(err)
		e.cause = err
	} else {
		e.value = value
		e.hasValue = true
		e.err = nil
		e.cause = nil
		e.lastFetchedAt = c.config.nowFunc()
	}
	state := e.state(key)
	subscribers := e.subscriberList()
	c.mu.Unlock()

	if err != nil {
		logger.InfoContext(ctx, "Retrieval failed", slog.String("error", err.Error()), slog.Bool("stale", state.HasData))
	} else {
		logger.DebugContext(ctx, "Retrieval succeeded")
	}

	for _, subscriber := range subscribers {
		subscriber(state)
	}
}

// wait returns the outcome of p and whether it was superseded by a newer
// retrieval before it settled
func (c *Cache[T]) wait(ctx context.Context, key string, p pending) (T, bool, error) {
	var zero T

	if p.ch == nil {
		state, cause := c.settledState(key)
		if cause != nil {
			return state.Data, false, cause
		}
		if !state.HasData {
			return zero, false, fmt.Errorf("no value cached for %s", key)
		}
		return state.Data, false, nil
	}

	select {
	case result := <-p.ch:
		value, _ := result.Val.(T)

		c.mu.Lock()
		superseded := false
		if e, ok := c.entries[key]; !ok || e.seq != p.seq {
			superseded = true
		}
		c.mu.Unlock()

		return value, superseded, result.Err
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}
