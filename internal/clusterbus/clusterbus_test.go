package clusterbus

import (
	"context"
	"sync/atomic"
	"testing"
)

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message string) error {
	f.published = append(f.published, message)
	return nil
}

type fakeSubscriber struct {
	handler func(payload string)
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, channel string, handler func(payload string)) error {
	f.handler = handler
	return nil
}

type fakeFlusher struct {
	calls atomic.Int64
}

func (f *fakeFlusher) FlushAll() error {
	f.calls.Add(1)
	return nil
}

func TestBroadcastFlushPublishesFlushMessage(t *testing.T) {
	pub := &fakePublisher{}
	bus := New(pub, "hypercube:invalidate")

	if err := bus.BroadcastFlush(context.Background()); err != nil {
		t.Fatalf("BroadcastFlush() error = %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != flushMessage {
		t.Errorf("published = %v, want [%s]", pub.published, flushMessage)
	}
}

func TestListenFlushesOnReceipt(t *testing.T) {
	sub := &fakeSubscriber{}
	flusher := &fakeFlusher{}
	bus := New(&fakePublisher{}, "hypercube:invalidate")

	if err := bus.Listen(context.Background(), sub, flusher); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	sub.handler(flushMessage)
	sub.handler("garbage")

	if flusher.calls.Load() != 1 {
		t.Errorf("FlushAll called %d times, want 1 (only for valid flush messages)", flusher.calls.Load())
	}
}
