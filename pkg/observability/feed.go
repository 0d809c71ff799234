package observability

import (
	"context"
	"sync"

	"github.com/aretw0/introspection"
)

// FeedBuffer is the number of changes a watcher may lag behind before
// further changes are dropped for it.
const FeedBuffer = 16

// Feed holds the latest state of a component and fans every change out to
// its watchers. It satisfies introspection.TypedWatcher.
type Feed[T any] struct {
	mu      sync.Mutex
	current T
	subs    map[chan introspection.StateChange[T]]struct{}
}

// NewFeed creates a feed starting at initial.
func NewFeed[T any](initial T) *Feed[T] {
	return &Feed[T]{
		current: initial,
		subs:    make(map[chan introspection.StateChange[T]]struct{}),
	}
}

// State returns the latest published value.
func (f *Feed[T]) State() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Publish records next and notifies watchers without blocking.
func (f *Feed[T]) Publish(next T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = next
	for ch := range f.subs {
		select {
		case ch <- introspection.StateChange[T]{NewState: next}:
		default:
		}
	}
}

// Watch returns a channel that first receives the current state, then every
// published change. It is closed when ctx is done.
func (f *Feed[T]) Watch(ctx context.Context) <-chan introspection.StateChange[T] {
	ch := make(chan introspection.StateChange[T], FeedBuffer)

	f.mu.Lock()
	ch <- introspection.StateChange[T]{NewState: f.current}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()
	return ch
}
