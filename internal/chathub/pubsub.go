package chathub

import (
	"context"
	"fmt"
	"log/slog"

	"parley/backend/internal/fanout"

	"github.com/redis/go-redis/v9"
)

// LocalDeliverer delivers an envelope to the sessions of this instance.
type LocalDeliverer interface {
	DeliverLocal(ctx context.Context, env fanout.Envelope) fanout.Report
}

// RedisRelay spreads fanout envelopes to every instance over one Pub/Sub channel.
// Each instance, the publisher included, delivers to its own sessions on receipt.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   LocalDeliverer
	log     *slog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, local LocalDeliverer, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local, log: log}
}

// Publish implements fanout.Relay.
func (r *RedisRelay) Publish(ctx context.Context, env fanout.Envelope) error {
	payload, err := fanout.Encode(env)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", r.channel, err)
	}
	return nil
}

// Listen subscribes to the channel and delivers every envelope locally until ctx is done.
func (r *RedisRelay) Listen(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so nothing published after
	// startup is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.log.Info("Relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

// handle delivers without blocking the subscription loop; envelopes may
// overtake each other, see the fanout package doc.
func (r *RedisRelay) handle(ctx context.Context, payload string) {
	env, err := fanout.Decode([]byte(payload))
	if err != nil {
		r.log.Warn("Dropping relay payload", "error", err)
		return
	}
	go r.local.DeliverLocal(ctx, env)
}
