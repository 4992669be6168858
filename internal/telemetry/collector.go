package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hcproxy/hypercube-proxy/pkg/kafka"
)

// publisher is the subset of kafka.Producer the Collector needs, so tests can
// substitute a fake instead of a live broker connection.
type publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
	Close() error
}

// Collector publishes Events to Kafka without ever blocking the caller's
// request path. Events are queued onto a bounded channel and drained by a
// background goroutine; a full queue drops the event and logs it rather than
// applying backpressure to the proxy's hot path.
type Collector struct {
	producer publisher
	queue    chan Event
	logger   *slog.Logger

	wg      sync.WaitGroup
	dropped atomic.Int64
}

// NewCollector starts a Collector backed by the given Kafka producer, with
// a queue of the given capacity.
func NewCollector(producer *kafka.Producer, queueSize int) *Collector {
	return newCollector(producer, queueSize)
}

func newCollector(producer publisher, queueSize int) *Collector {
	if queueSize <= 0 {
		queueSize = 1024
	}
	c := &Collector{
		producer: producer,
		queue:    make(chan Event, queueSize),
		logger:   slog.Default().With("component", "telemetry-collector"),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Collector) run() {
	defer c.wg.Done()
	for event := range c.queue {
		ctx := context.Background()
		err := c.producer.Publish(ctx, kafka.Event{Key: string(event.Kind), Value: event})
		if err != nil {
			c.logger.Warn("failed to publish telemetry event", "kind", event.Kind, "error", err)
		}
	}
}

// Track enqueues event for publication. It never blocks: if the queue is
// full the event is dropped and counted.
func (c *Collector) Track(event Event) {
	select {
	case c.queue <- event:
	default:
		c.dropped.Add(1)
		c.logger.Warn("telemetry queue full, dropping event", "kind", event.Kind)
	}
}

// Dropped returns the cumulative count of events dropped due to backpressure.
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops accepting new events and waits for the queue to drain, then
// closes the underlying producer.
func (c *Collector) Close() error {
	close(c.queue)
	c.wg.Wait()
	return c.producer.Close()
}
