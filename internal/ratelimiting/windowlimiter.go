package ratelimiting

import (
	"context"
	"slices"
	"sync"
	"time"
)

// RequestLimiter spaces out operations against a rate limited resource.
type RequestLimiter interface {
	// Limit waits for capacity and runs operation. Returns false without
	// running it if ctx is done first, or if ctx has a deadline that does
	// not leave room for the wait plus maxOperationTime.
	Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool
}

// windowLimiter allows at most limit operations to complete within any
// window.
type windowLimiter struct {
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	// Bounds the number of operations waiting or running
	slots chan struct{}

	mu sync.Mutex
	// Completion times of the last operations, oldest first. One entry per
	// free slot.
	completions []time.Time
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) RequestLimiter {
	slots := make(chan struct{}, limit)
	completions := make([]time.Time, 0, limit)
	longAgo := nowFunc().Add(-window)
	for range limit {
		slots <- struct{}{}
		completions = append(completions, longAgo)
	}

	return &windowLimiter{
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		slots:       slots,
		completions: completions,
	}
}

func (l *windowLimiter) Limit(ctx context.Context, maxOperationTime time.Duration, operation func(ctx context.Context)) bool {
	select {
	case <-l.slots:
		defer func() {
			l.slots <- struct{}{}
		}()
	case <-ctx.Done():
		return false
	}

	oldest, wait, ok := l.takeOldest(ctx, maxOperationTime)
	if !ok {
		return false
	}

	if wait > 0 {
		select {
		case <-ctx.Done():
			l.putCompletion(oldest)
			return false
		case <-l.afterFunc(wait):
		}
	}

	operation(ctx)

	l.putCompletion(l.nowFunc())
	return true
}

func (l *windowLimiter) takeOldest(ctx context.Context, maxOperationTime time.Duration) (time.Time, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.completions[0]
	wait := l.window - l.nowFunc().Sub(oldest)

	if deadline, ok := ctx.Deadline(); ok {
		if max(wait, 0)+maxOperationTime > deadline.Sub(l.nowFunc()) {
			return time.Time{}, 0, false
		}
	}

	l.completions = l.completions[1:]
	return oldest, wait, true
}

func (l *windowLimiter) putCompletion(completedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, _ := slices.BinarySearchFunc(l.completions, completedAt, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.completions = slices.Insert(l.completions, i, completedAt)
}
