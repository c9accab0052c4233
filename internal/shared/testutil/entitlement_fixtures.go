package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scriptgate/internal/entitlement"
)

// Store operation names understood by FlakyStore.
const (
	OpGetOrCreate      = "get_or_create"
	OpGet              = "get"
	OpApplyTransitions = "apply_transitions"
	OpActivate         = "activate"
)

// FlakyStore wraps a store and fails selected operations with
// entitlement.ErrStoreUnavailable. Failures are scheduled per operation and
// consumed in order.
type FlakyStore struct {
	entitlement.Store

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

// NewFlakyStore wraps inner.
func NewFlakyStore(inner entitlement.Store) *FlakyStore {
	return &FlakyStore{
		Store:    inner,
		failures: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail. A negative n fails forever.
func (f *FlakyStore) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = n
}

// Calls returns how many times op was invoked, failed or not.
func (f *FlakyStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FlakyStore) fail(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	switch n := f.failures[op]; {
	case n < 0:
		return fmt.Errorf("%w: injected %s failure", entitlement.ErrStoreUnavailable, op)
	case n > 0:
		f.failures[op] = n - 1
		return fmt.Errorf("%w: injected %s failure", entitlement.ErrStoreUnavailable, op)
	}
	return nil
}

func (f *FlakyStore) GetOrCreate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	if err := f.fail(OpGetOrCreate); err != nil {
		return entitlement.Entitlement{}, err
	}
	return f.Store.GetOrCreate(ctx, userID, now)
}

func (f *FlakyStore) Get(ctx context.Context, userID string) (entitlement.Entitlement, error) {
	if err := f.fail(OpGet); err != nil {
		return entitlement.Entitlement{}, err
	}
	return f.Store.Get(ctx, userID)
}

func (f *FlakyStore) ApplyTransitions(ctx context.Context, userID string, t entitlement.Transitions) (entitlement.Entitlement, entitlement.Transitions, error) {
	if err := f.fail(OpApplyTransitions); err != nil {
		return entitlement.Entitlement{}, entitlement.Transitions{}, err
	}
	return f.Store.ApplyTransitions(ctx, userID, t)
}

func (f *FlakyStore) Activate(ctx context.Context, userID string, now time.Time) (entitlement.Entitlement, error) {
	if err := f.fail(OpActivate); err != nil {
		return entitlement.Entitlement{}, err
	}
	return f.Store.Activate(ctx, userID, now)
}

// Ping fails while GetOrCreate is scheduled to fail.
func (f *FlakyStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	n := f.failures[OpGetOrCreate]
	f.mu.Unlock()
	if n != 0 {
		return fmt.Errorf("%w: injected ping failure", entitlement.ErrStoreUnavailable)
	}
	return nil
}

// EventRecorder is an entitlement.EventPublisher that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []entitlement.Event
}

// Publish implements entitlement.EventPublisher
func (r *EventRecorder) Publish(_ context.Context, ev entitlement.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []entitlement.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entitlement.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type.
func (r *EventRecorder) OfType(typ string) []entitlement.Event {
	var out []entitlement.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
