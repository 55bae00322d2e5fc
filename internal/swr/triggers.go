package swr

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Amund211/flashfetch/internal/logging"
)

// Revalidatable is anything that reacts to focus and reconnect events
type Revalidatable interface {
	OnFocus(ctx context.Context) bool
	OnReconnect(ctx context.Context) bool
}

// Triggers fans focus and reconnect events out to every registered loader.
//
// It replaces the global listeners a browser would provide. Transports that
// know when a client regains focus or connectivity call Focus or Reconnect.
type Triggers struct {
	mu      sync.Mutex
	targets map[uint64]Revalidatable
	nextID  uint64
}

func NewTriggers() *Triggers {
	return &Triggers{
		targets: make(map[uint64]Revalidatable),
	}
}

// Register adds target and returns a function removing it again
func (t *Triggers) Register(target Revalidatable) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.targets[id] = target

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.targets, id)
	}
}

// Focus notifies every target and returns how many of them revalidated
func (t *Triggers) Focus(ctx context.Context) int {
	revalidated := 0
	for _, target := range t.snapshot() {
		if target.OnFocus(ctx) {
			revalidated++
		}
	}
	logging.FromContext(ctx).DebugContext(ctx, "Broadcast focus", slog.Int("revalidated", revalidated))
	return revalidated
}

// Reconnect notifies every target and returns how many of them revalidated
func (t *Triggers) Reconnect(ctx context.Context) int {
	revalidated := 0
	for _, target := range t.snapshot() {
		if target.OnReconnect(ctx) {
			revalidated++
		}
	}
	logging.FromContext(ctx).DebugContext(ctx, "Broadcast reconnect", slog.Int("revalidated", revalidated))
	return revalidated
}

func (t *Triggers) snapshot() []Revalidatable {
	t.mu.Lock()
	defer t.mu.Unlock()

	targets := make([]Revalidatable, 0, len(t.targets))
	for _, target := range t.targets {
		targets = append(targets, target)
	}
	return targets
}
