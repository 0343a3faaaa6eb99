// Package events publishes completed conversation round-trips to Redis
// pub/sub so that dashboards and recorders can follow sessions live.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"voice-tutor/internal/domain"
)

const DefaultChannel = "voice-tutor:round-trips"

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Publisher writes each round-trip as JSON to a channel. Per-session
// subscribers can use the "<channel>:<session id>" channel instead.
type Publisher struct {
	rdb     redisPublisher
	channel string
	close   func() error
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts RedisOptions) (*Publisher, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("events: redis address must not be empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("events: connect to redis: %w", err)
	}
	p := newPublisher(rdb, opts.Channel)
	p.close = rdb.Close
	return p, nil
}

func newPublisher(rdb redisPublisher, channel string) *Publisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

func (p *Publisher) PublishRoundTrip(ctx context.Context, ev domain.RoundTrip) error {
	payload, err := sonic.MarshalString(ev)
	if err != nil {
		return fmt.Errorf("events: encode round trip: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish to %s: %w", p.channel, err)
	}
	sessionChannel := p.channel + ":" + ev.SessionID
	if err := p.rdb.Publish(ctx, sessionChannel, payload).Err(); err != nil {
		return fmt.Errorf("events: publish to %s: %w", sessionChannel, err)
	}
	return nil
}
