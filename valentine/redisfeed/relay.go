/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package redisfeed carries committed valentine changes between server
// instances over Redis pub/sub, so a viewer connected to one instance sees
// writes made through another.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Seednode/valentines/valentine"
)

const (
	defaultPrefix  = "valentines:"
	publishTimeout = 5 * time.Second
)

// Relay publishes snapshots to Redis and feeds everything it hears back into
// the local publisher (normally a *valentine.Broker). It implements
// valentine.Publisher.
type Relay struct {
	client *redis.Client
	local  valentine.Publisher
	log    zerolog.Logger
	prefix string

	pubsub *redis.PubSub
	done   chan struct{}
}

// Dial connects to redisURL and checks the connection.
func Dial(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

// New subscribes to the relay channels and starts pumping messages into
// local. The subscription is confirmed before New returns, so nothing
// published afterwards is missed.
func New(ctx context.Context, client *redis.Client, local valentine.Publisher, log zerolog.Logger) (*Relay, error) {
	r := &Relay{
		client: client,
		local:  local,
		log:    log,
		prefix: defaultPrefix,
		done:   make(chan struct{}),
	}

	r.pubsub = client.PSubscribe(ctx, r.prefix+"*")
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s*: %w", r.prefix, err)
	}

	go r.run()

	return r, nil
}

func (r *Relay) recordChannel(id string) string {
	return r.prefix + "record:" + id
}

func (r *Relay) countChannel() string {
	return r.prefix + "count"
}

// Publish sends rec to every instance. If Redis is unreachable the snapshot
// is still delivered to this instance's subscribers.
func (r *Relay) Publish(rec valentine.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Error().Err(err).Str("id", rec.ID).Msg("unable to encode snapshot")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.recordChannel(rec.ID), data).Err(); err != nil {
		r.log.Warn().Err(err).Str("id", rec.ID).Msg("redis publish failed, delivering locally")
		r.local.Publish(rec)
	}
}

func (r *Relay) PublishCount(total int64) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.countChannel(), strconv.FormatInt(total, 10)).Err(); err != nil {
		r.log.Warn().Err(err).Msg("redis publish failed, delivering count locally")
		r.local.PublishCount(total)
	}
}

func (r *Relay) run() {
	defer close(r.done)

	for msg := range r.pubsub.Channel() {
		switch {
		case msg.Channel == r.countChannel():
			total, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				r.log.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed count")
				continue
			}
			r.local.PublishCount(total)

		case strings.HasPrefix(msg.Channel, r.prefix+"record:"):
			var rec valentine.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("ignoring malformed snapshot")
				continue
			}
			r.local.Publish(rec)
		}
	}
}

// Close stops listening. It does not close the Redis client.
func (r *Relay) Close() error {
	err := r.pubsub.Close()
	<-r.done
	return err
}
