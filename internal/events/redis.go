package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes events on a Redis channel and feeds every event it
// hears back into the local hub, so each server instance delivers to its own
// sockets.
type RedisBroker struct {
	rdb     *redis.Client
	channel string
	hub     Deliverer
	logger  *log.Logger
}

func NewRedisClient(url string) *redis.Client {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// plain host:port, as used in compose files
		opts = &redis.Options{Addr: url}
	}
	return redis.NewClient(opts)
}

func NewRedisBroker(rdb *redis.Client, channel string, hub Deliverer, logger *log.Logger) *RedisBroker {
	return &RedisBroker{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		logger:  logger,
	}
}

func (b *RedisBroker) Publish(ctx context.Context, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Run blocks until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("listening for push events", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var envelope Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				b.logger.Warn("dropping undecodable event", "err", err)
				continue
			}
			b.hub.Deliver(envelope)
		}
	}
}
