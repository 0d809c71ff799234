package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/introspection"
	"github.com/aretw0/zenforge/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_WatchReplaysCurrentThenChanges(t *testing.T) {
	feed := observability.NewFeed("idle")
	var watcher introspection.TypedWatcher[string] = feed
	_ = watcher

	ctx, cancel := context.WithCancel(context.Background())
	changes := feed.Watch(ctx)
	feed.Publish("loading")
	feed.Publish("resident")

	var got []string
	for range 3 {
		select {
		case c := <-changes:
			got = append(got, c.NewState)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change")
		}
	}
	assert.Equal(t, []string{"idle", "loading", "resident"}, got)
	assert.Equal(t, "resident", feed.State())

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok, "watch channel closes with its context")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestFeed_SlowWatcherDoesNotBlockPublish(t *testing.T) {
	feed := observability.NewFeed(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = feed.Watch(ctx)

	done := make(chan struct{})
	go func() {
		for i := range observability.FeedBuffer * 4 {
			feed.Publish(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full watcher")
	}
	assert.Equal(t, observability.FeedBuffer*4-1, feed.State())
}

func TestAggregator_CombinesFeeds(t *testing.T) {
	models := observability.NewFeed("qwen")
	rounds := observability.NewFeed(2)
	agg := observability.NewAggregator(models)
	agg.AddWatcher(rounds)
	require.Equal(t, 2, agg.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snaps := agg.Watch(ctx)

	seen := map[any]bool{}
	for !seen["qwen"] || !seen[2] {
		select {
		case s, ok := <-snaps:
			require.True(t, ok, "aggregate closed early")
			seen[s.Payload] = true
		case <-ctx.Done():
			t.Fatalf("missing snapshots, saw %v", seen)
		}
	}
}
