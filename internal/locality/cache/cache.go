// Package cache provides a Redis-backed projection cache. Entries are the
// flat JSON wire shape, so a cache hit can be served without touching the
// stores. Cache failures degrade to store reads; they are never surfaced to
// callers.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gazetteer/internal/locality/models"
	platformredis "gazetteer/internal/platform/redis"
)

const (
	keyPrefix  = "gazetteer:projection:"
	defaultTTL = 5 * time.Minute
)

// Redis caches locality projections with a bounded TTL so a missed
// invalidation heals on its own.
type Redis struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Option configures the Redis cache.
type Option func(*Redis)

func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) { r.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Redis) { r.logger = logger }
}

func NewRedis(client *platformredis.Client, opts ...Option) *Redis {
	r := &Redis{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Get(ctx context.Context, uuid string) (*models.Projection, bool) {
	raw, err := r.client.Get(ctx, keyPrefix+uuid).Bytes()
	if err != nil {
		return nil, false
	}
	var p models.Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		// A corrupt entry is dropped so the next read repopulates it.
		r.client.Del(ctx, keyPrefix+uuid)
		return nil, false
	}
	return &p, true
}

func (r *Redis) Set(ctx context.Context, uuid string, p models.Projection) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, keyPrefix+uuid, raw, r.ttl).Err(); err != nil {
		r.warn(ctx, "projection cache set failed", "uuid", uuid, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, uuid string) {
	if err := r.client.Del(ctx, keyPrefix+uuid).Err(); err != nil {
		r.warn(ctx, "projection cache invalidation failed", "uuid", uuid, "error", err)
	}
}

func (r *Redis) warn(ctx context.Context, msg string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.WarnContext(ctx, msg, args...)
}
