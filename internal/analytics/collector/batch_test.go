package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OnlineMo/DeepResearch-Web/internal/analytics"
	"github.com/OnlineMo/DeepResearch-Web/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	fail    bool
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakePublisher) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakePublisher) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakePublisher) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for _, b := range f.batches {
		for _, ev := range b {
			keys = append(keys, ev.Key)
		}
	}
	return keys
}

func waitPublished(t *testing.T, pub *fakePublisher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return pub.published() >= n }, 2*time.Second, 5*time.Millisecond,
		"published %d of %d events", pub.published(), n)
}

func TestFullBatchIsPublished(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc.Start(ctx)

	bc.RecordSearch(analytics.NewSearchEvent("ai", []string{"ai"}))
	bc.RecordSearch(analytics.NewSearchEvent("经济", []string{"经济"}))
	waitPublished(t, pub, 2)

	assert.Equal(t, []string{"ai", "经济"}, pub.keys(), "events are keyed by query")
}

func TestIntervalPublishesPartialBatch(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 100, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc.Start(ctx)

	bc.Track("k", "v")
	waitPublished(t, pub, 1)
}

func TestShutdownPublishesQueued(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	for i := 0; i < 3; i++ {
		bc.Track("k", i)
	}
	cancel()
	bc.Close()
	assert.Equal(t, 3, pub.published())
}

func TestFailedFlushKeepsNewestEvents(t *testing.T) {
	pub := &fakePublisher{fail: true}
	bc := NewBatchCollector(pub, 2, time.Hour)
	for i := 0; i < 7; i++ {
		bc.pending = append(bc.pending, kafka.Event{Key: fmt.Sprint(i)})
	}

	bc.flush(context.Background())
	require.Len(t, bc.pending, 6)
	assert.Equal(t, "1", bc.pending[0].Key, "oldest event is dropped first")

	pub.setFail(false)
	bc.flush(context.Background())
	assert.Empty(t, bc.pending)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, pub.keys())
}

func TestTrackDropsWhenQueueFull(t *testing.T) {
	bc := NewBatchCollector(&fakePublisher{}, 1, time.Hour)
	for i := 0; i < queueBatches+2; i++ {
		bc.Track("k", i)
	}
	assert.Equal(t, int64(2), bc.Dropped())
}
