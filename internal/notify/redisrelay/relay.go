// Package redisrelay shares broadcast frames between service replicas over
// a Redis pub/sub channel.
package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/boltflow/internal/notify"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "boltflow:events"

// Local is the in-process delivery target, normally *notify.Hub.
type Local interface {
	BroadcastRaw(ctx context.Context, payload []byte)
}

// Relay publishes frames to Redis and feeds frames from every replica into
// the local hub. It implements notify.Notifier.
type Relay struct {
	client     *redis.Client
	channel    string
	local      Local
	logger     *zap.Logger
	subscribed atomic.Bool
	newBackOff func() backoff.BackOff
}

// New connects to redisURL.
func New(redisURL, channel string, local Local, logger *zap.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), channel, local, logger), nil
}

// NewWithClient builds a Relay around an existing client.
func NewWithClient(client *redis.Client, channel string, local Local, logger *zap.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		client:     client,
		channel:    channel,
		local:      local,
		logger:     logger.Named("redisrelay"),
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Broadcast publishes msg for every replica. While this process is not
// subscribed, or Redis is unavailable, the frame is also delivered to the
// local hub directly.
func (r *Relay) Broadcast(ctx context.Context, msg notify.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal broadcast", zap.String("job_id", msg.JobID), zap.Error(err))
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("redis publish failed; delivering locally",
			zap.String("job_id", msg.JobID), zap.Error(err))
		r.local.BroadcastRaw(ctx, payload)
		return
	}
	if !r.subscribed.Load() {
		r.local.BroadcastRaw(ctx, payload)
	}
}

// Subscribed reports whether frames from Redis currently feed the local hub.
func (r *Relay) Subscribed() bool {
	return r.subscribed.Load()
}

// Run subscribes to the channel and forwards frames until ctx is done. Lost
// or failed subscriptions are retried with exponential backoff.
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.WithContext(r.newBackOff(), ctx)
	for {
		err := r.subscribe(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("relay gave up: %w", err)
		}
		r.logger.Warn("relay subscription lost; retrying",
			zap.String("channel", r.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// subscribe forwards frames from one subscription until it ends.
func (r *Relay) subscribe(ctx context.Context, b backoff.BackOff) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	defer r.subscribed.Store(false)
	b.Reset()
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription %s closed", r.channel)
			}
			r.deliver(ctx, m.Payload)
		}
	}
}

// Ping checks connectivity.
func (r *Relay) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Relay) Close() error {
	return r.client.Close()
}

func (r *Relay) deliver(ctx context.Context, payload string) {
	var msg notify.Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil || msg.Type == "" {
		r.logger.Warn("discarding malformed relay frame", zap.Int("bytes", len(payload)))
		return
	}
	r.local.BroadcastRaw(ctx, []byte(payload))
}
