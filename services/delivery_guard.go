package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeliveryGuard suppresses concurrent or repeated processing of the same
// webhook delivery across service instances. It is an optimisation only;
// the order compare-and-set and the Sale unique key remain authoritative.
type DeliveryGuard interface {
	// Acquire reports whether the caller may process key.
	Acquire(ctx context.Context, key string) bool
	// Release lets a delivery that did not reach an order be processed again.
	Release(ctx context.Context, key string)
}

type RedisDeliveryGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisDeliveryGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisDeliveryGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeliveryGuard{client: client, ttl: ttl, logger: logger}
}

// Acquire fails open when Redis is unavailable.
func (g *RedisDeliveryGuard) Acquire(ctx context.Context, key string) bool {
	ok, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		g.logger.Warn("Delivery guard unavailable, processing anyway", zap.String("key", key), zap.Error(err))
		return true
	}
	return ok
}

func (g *RedisDeliveryGuard) Release(ctx context.Context, key string) {
	if err := g.client.Del(ctx, key).Err(); err != nil {
		g.logger.Warn("Failed to release delivery guard", zap.String("key", key), zap.Error(err))
	}
}

type noopGuard struct{}

func (noopGuard) Acquire(context.Context, string) bool { return true }
func (noopGuard) Release(context.Context, string)      {}

// NoopGuard lets every delivery through.
func NoopGuard() DeliveryGuard { return noopGuard{} }

func deliveryKey(source, chargeID, deliveryID string) string {
	return "pix:webhook:" + source + ":" + chargeID + ":" + deliveryID
}
