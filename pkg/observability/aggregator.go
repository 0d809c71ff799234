package observability

import (
	"context"

	"github.com/aretw0/introspection"
)

// Aggregator combines multiple watchers into a single view.
type Aggregator struct {
	watchers []interface{}
}

// NewAggregator creates an aggregator over the given watchers.
func NewAggregator(watchers ...interface{}) *Aggregator {
	return &Aggregator{watchers: watchers}
}

// AddWatcher registers a component implementing introspection.TypedWatcher.
func (a *Aggregator) AddWatcher(w interface{}) {
	a.watchers = append(a.watchers, w)
}

// Len reports the number of registered watchers.
func (a *Aggregator) Len() int { return len(a.watchers) }

// Watch streams snapshots from every watcher until ctx is done.
func (a *Aggregator) Watch(ctx context.Context) <-chan introspection.StateSnapshot {
	return introspection.AggregateWatchers(ctx, a.watchers...)
}
