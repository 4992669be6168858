package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hcproxy/hypercube-proxy/pkg/kafka"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []kafka.Event
	block     chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, event kafka.Event) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestTrackPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	c := newCollector(pub, 10)

	c.Track(Event{Kind: KindCacheHit, Signature: "region"})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if pub.count() != 1 {
		t.Errorf("published %d events, want 1", pub.count())
	}
}

func TestTrackDropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	c := newCollector(pub, 1)

	// first Track is picked up by run() immediately and blocks on publish;
	// the queue itself (capacity 1) then fills and the next Track overflows.
	c.Track(Event{Kind: KindCacheHit})
	time.Sleep(10 * time.Millisecond)
	c.Track(Event{Kind: KindCacheMiss})
	c.Track(Event{Kind: KindCacheBypass})

	close(pub.block)
	c.Close()

	if c.Dropped() == 0 {
		t.Error("Dropped() = 0, want at least one dropped event")
	}
}
