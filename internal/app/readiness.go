package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface of a dependency capable of Ping. The
// pgx pool, the blob store and test fakes all satisfy it.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal Redis surface readiness needs.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// BuildReadinessChecks returns the db, redis and blob readiness checks.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, blob Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	blobCheck := func(ctx context.Context) error {
		if blob == nil {
			return fmt.Errorf("blob store not configured")
		}
		return blob.Ping(ctx)
	}
	return dbCheck, redisCheck, blobCheck
}
