package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// inProgressMarker is the reservation value before a terminal result exists.
// Not valid JSON, so it can never be confused with a stored result.
const inProgressMarker = "!in-progress"

// Guard is the idempotency/concurrency guard. Reserve claims a key before
// execution begins; Complete replaces the claim with the terminal result so
// later duplicates replay it; Release frees the claim when the attempt ended
// without executing anything (transient failure), letting a retry re-run.
type Guard interface {
	// Reserve returns (nil, true, nil) when the key was claimed by this call,
	// (prior, false, nil) when a terminal result already exists, and
	// (nil, false, nil) when another request holds the key in flight.
	Reserve(ctx context.Context, key uuid.UUID) (*views.TransferResult, bool, error)
	Complete(ctx context.Context, key uuid.UUID, result views.TransferResult) error
	Release(ctx context.Context, key uuid.UUID) error
}

// RedisGuard keeps reservations in Redis. The claim is an atomic SET NX, the
// equivalent of a unique-constraint insert; the transfers table's partial
// unique index on (idempotency_key, SUCCESS) is the durable backstop if Redis
// state is lost.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl, logger: logger}
}

func guardKey(key uuid.UUID) string {
	return "idem:transfer:" + key.String()
}

func (g *RedisGuard) Reserve(ctx context.Context, key uuid.UUID) (*views.TransferResult, bool, error) {
	claimed, err := g.client.SetNX(ctx, guardKey(key), inProgressMarker, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency reserve: %w", err)
	}
	if claimed {
		return nil, true, nil
	}

	val, err := g.client.Get(ctx, guardKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Reservation expired between SETNX and GET; treat as in flight,
			// the client can retry.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("idempotency read: %w", err)
	}
	if val == inProgressMarker {
		return nil, false, nil
	}

	var prior views.TransferResult
	if err := json.Unmarshal([]byte(val), &prior); err != nil {
		g.logger.Error("corrupt idempotency record", zap.String("key", key.String()), zap.Error(err))
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &prior, false, nil
}

func (g *RedisGuard) Complete(ctx context.Context, key uuid.UUID, result views.TransferResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := g.client.Set(ctx, guardKey(key), payload, g.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key uuid.UUID) error {
	if err := g.client.Del(ctx, guardKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
