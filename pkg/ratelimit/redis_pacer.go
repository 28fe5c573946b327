package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisKey is the slot key shared by all exporters using one API key.
const DefaultRedisKey = "goodreads:pacer:slot"

// minPoll bounds the sleep when the slot key has no usable TTL.
const minPoll = 10 * time.Millisecond

// RedisPacer shares one request slot per interval across processes.
//
// A request slot is a key written with SET NX PX interval: whoever creates it
// may send a request, everyone else sleeps for the key's remaining TTL.
type RedisPacer struct {
	redis    *redis.Client
	key      string
	interval time.Duration
	logger   zerolog.Logger
}

// NewRedisPacer creates a Redis backed pacer. An empty key uses DefaultRedisKey.
func NewRedisPacer(redisClient *redis.Client, key string, interval time.Duration, logger zerolog.Logger) (*RedisPacer, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive (got %s)", interval)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPacer{
		redis:    redisClient,
		key:      key,
		interval: interval,
		logger:   logger,
	}, nil
}

// Wait implements Pacer.
func (p *RedisPacer) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		acquired, err := p.redis.SetNX(ctx, p.key, start.UnixMilli(), p.interval).Result()
		if err != nil {
			return fmt.Errorf("acquire request slot: %w", err)
		}
		if acquired {
			waited := time.Since(start)
			if waited > p.interval {
				p.logger.Warn().
					Dur("waited", waited).
					Str("key", p.key).
					Msg("Request slot contended")
			}
			observeWait("redis", waited)
			return nil
		}

		ttl, err := p.redis.PTTL(ctx, p.key).Result()
		if err != nil {
			return fmt.Errorf("read request slot ttl: %w", err)
		}
		// go-redis reports -1 (no expiry) and -2 (no key) unscaled
		if ttl == -1 {
			if err := p.redis.PExpire(ctx, p.key, p.interval).Err(); err != nil {
				return fmt.Errorf("expire stale request slot: %w", err)
			}
		}
		if ttl <= 0 {
			ttl = minPoll
		}

		p.logger.Debug().
			Dur("sleep", ttl).
			Str("key", p.key).
			Msg("Waiting for request slot")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ttl):
		}
	}
}
