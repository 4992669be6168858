// Package clusterbus broadcasts cache-flush signals across proxy replicas
// over Redis pub/sub. The cache index itself stays strictly in-process; the
// bus only carries the signal that tells every other replica to flush its
// own copy.
package clusterbus

import (
	"context"
	"log/slog"
)

const flushMessage = "flush"

// Publisher is the subset of redis.Client the bus needs to broadcast.
type Publisher interface {
	Publish(ctx context.Context, channel string, message string) error
}

// Subscriber is the subset of redis.Client the bus needs to receive.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(payload string)) error
}

// Flusher is the subset of cacheindex.CacheIndex the bus flushes on receipt.
type Flusher interface {
	FlushAll() error
}

// Bus publishes and receives flush signals on a single Redis channel.
type Bus struct {
	publisher Publisher
	channel   string
	logger    *slog.Logger
}

// New builds a Bus bound to channel.
func New(publisher Publisher, channel string) *Bus {
	return &Bus{
		publisher: publisher,
		channel:   channel,
		logger:    slog.Default().With("component", "clusterbus", "channel", channel),
	}
}

// BroadcastFlush announces a flush to every other replica subscribed to the
// channel. The caller is expected to have already flushed its own index;
// Listen's handler flushes again locally when this replica's own message
// arrives, which is safe because FlushAll is idempotent.
func (b *Bus) BroadcastFlush(ctx context.Context) error {
	return b.publisher.Publish(ctx, b.channel, flushMessage)
}

// Listen subscribes to the channel and flushes index on every flush message
// received, until ctx is cancelled. Any other payload is ignored.
func (b *Bus) Listen(ctx context.Context, subscriber Subscriber, index Flusher) error {
	return subscriber.Subscribe(ctx, b.channel, func(payload string) {
		if payload != flushMessage {
			return
		}
		if err := index.FlushAll(); err != nil {
			b.logger.Warn("failed to flush cache index on cluster signal", "error", err)
		}
	})
}
