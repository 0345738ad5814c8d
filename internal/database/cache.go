package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenBlacklistPrefix = "pharmagest:revoked:"

// BlacklistToken marks an admin session token as revoked until it would have
// expired anyway. A nil client makes this a no-op.
func BlacklistToken(rdb *redis.Client, token string, ttl time.Duration) error {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	ctx := context.Background()
	return rdb.Set(ctx, tokenBlacklistPrefix+token, "1", ttl).Err()
}

// IsTokenBlacklisted reports whether an admin session token has been revoked.
func IsTokenBlacklisted(rdb *redis.Client, token string) bool {
	if rdb == nil {
		return false
	}
	ctx := context.Background()
	exists, err := rdb.Exists(ctx, tokenBlacklistPrefix+token).Result()
	return err == nil && exists > 0
}
