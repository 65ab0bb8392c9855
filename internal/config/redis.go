package config

// Redis backs the shared rate limiter and the catalog response cache.
// Both degrade to in-process implementations when the server cannot be
// reached, so a failed connection is logged and reported as nil.

import (
	"context"
	"crypto/tls"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client using environment variables.
// Supported variables are:
//
//	REDIS_URL – redis:// or rediss:// URL (takes precedence over the rest)
//	REDIS_ADDR – host:port, default localhost:6379
//	REDIS_PASSWORD – optional password
//	REDIS_DB – database number (default 0)
//	REDIS_TLS – enable TLS when "true" or "1"
//	REDIS_ENABLED – set to false to skip Redis entirely
//
// The returned client is nil if Redis is disabled or unreachable.
func NewRedisClient(ctx context.Context, log *slog.Logger) *redis.Client {
	if !envBool("REDIS_ENABLED", true) {
		log.Info("redis disabled; using in-process rate limiter and cache")
		return nil
	}

	var opts *redis.Options
	if u := os.Getenv("REDIS_URL"); u != "" {
		parsed, err := redis.ParseURL(u)
		if err != nil {
			log.Warn("invalid REDIS_URL; using in-process rate limiter and cache", slog.Any("err", err))
			return nil
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     envStr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		}
		if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
			opts.DB = n
		}
		if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable; using in-process rate limiter and cache",
			slog.String("addr", opts.Addr), slog.Any("err", err))
		_ = client.Close()
		return nil
	}
	log.Info("redis connected", slog.String("addr", opts.Addr))
	return client
}
