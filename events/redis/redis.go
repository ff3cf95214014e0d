// Package redis implements events.Bus on Redis Streams so that pool
// lifecycle events from many players can be observed in one place. Each
// topic is one stream; ids are the stream entry ids assigned by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/drm-session-go/events"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const (
	defaultAddr      = "localhost:6379"
	defaultKeyPrefix = "drm:events:"
)

// Config for the Redis bus. Defaults can be loaded via envdecode.
type Config struct {
	// Client is the Redis client to use. If nil, one is created for Addr.
	Client redis.UniversalClient
	// Addr like "localhost:6379". ENV: DRM_EVENTS_REDIS_ADDR
	Addr string `env:"DRM_EVENTS_REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all stream keys. ENV: DRM_EVENTS_KEY_PREFIX
	KeyPrefix string `env:"DRM_EVENTS_KEY_PREFIX,default=drm:events:"`
	// MaxLen caps each stream, approximately. Zero keeps everything.
	// ENV: DRM_EVENTS_MAX_LEN
	MaxLen int64 `env:"DRM_EVENTS_MAX_LEN,default=10000"`
}

// Bus is a Redis Streams backed events.Bus.
type Bus struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// New creates a bus from cfg. It does not contact Redis.
func New(cfg Config) *Bus {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = defaultAddr
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Bus{client: client, keyPrefix: prefix, maxLen: cfg.MaxLen}
}

// NewFromEnv builds a Bus using envdecode to populate Config and verifies
// the server is reachable.
func NewFromEnv(ctx context.Context) (*Bus, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis events config: %w", err)
	}
	b := New(cfg)
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return b, nil
}

// Close closes the Redis client.
func (b *Bus) Close() error { return b.client.Close() }

func (b *Bus) streamKey(topic string) string { return b.keyPrefix + "stream:" + topic }

// Publish implements events.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, ev events.Event) (string, error) {
	data, err := events.Encode(ev)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: b.streamKey(topic),
		Values: map[string]any{"data": data},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event to stream %s: %w", args.Stream, err)
	}
	return id, nil
}

// Subscribe implements events.Bus.
func (b *Bus) Subscribe(ctx context.Context, topic string, lastEventID string, handler events.HandlerFunc) error {
	key := b.streamKey(topic)
	start := lastEventID
	if start == "" {
		start = "$"
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, start},
			Count:   16,
			Block:   500 * time.Millisecond,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("failed to read from stream %s: %w", key, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				start = msg.ID
				var payload []byte
				switch v := msg.Values["data"].(type) {
				case string:
					payload = []byte(v)
				case []byte:
					payload = v
				default:
					// not ours
					continue
				}
				ev, err := events.Decode(msg.ID, payload)
				if err != nil {
					continue
				}
				if err := handler(ctx, ev); err != nil {
					return err
				}
			}
		}
	}
}

// Cleanup implements events.Bus.
func (b *Bus) Cleanup(ctx context.Context, topic string) error {
	key := b.streamKey(topic)
	if err := b.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cleanup topic %s: %w", topic, err)
	}
	return nil
}

var _ events.Bus = (*Bus)(nil)
