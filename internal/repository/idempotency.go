package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const idempotencyTTL = 24 * time.Hour

type IdempotencyRepository struct {
	rdb *redis.Client
}

func NewIdempotencyRepository(rdb *redis.Client) *IdempotencyRepository {
	return &IdempotencyRepository{rdb: rdb}
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

// Claim records key and reports whether it was seen for the first time.
func (r *IdempotencyRepository) Claim(ctx context.Context, key string) (bool, error) {
	return r.rdb.SetNX(ctx, idempotencyKey(key), "exists", idempotencyTTL).Result()
}

// Release forgets a claimed key so the same submission can be retried.
func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, idempotencyKey(key)).Err()
}
