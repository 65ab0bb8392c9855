package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/iliyamo/club-event-registration/internal/config"
)

// decision is the outcome of one bucket draw.
type decision struct {
	allowed    bool
	remaining  int64
	retryAfter time.Duration
}

// limiter draws one token from the bucket named key.
type limiter interface {
	take(ctx context.Context, key string, now time.Time) (decision, error)
}

var limiterScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])

	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 and refill_tokens > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + (intervals * refill_tokens))
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		local until_next = interval_ms - (now_ms - last_refill)
		if until_next < 0 then until_next = 0 end
		retry_after_ms = until_next
	end

	redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill, 'capacity', capacity)
	redis.call('EXPIRE', key, ttl_seconds)

	return { allowed, tokens, retry_after_ms }
`)

// redisBucket keeps the buckets in Redis so that every instance shares
// them.
type redisBucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b *redisBucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
	args := []interface{}{
		now.UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL / time.Second),
	}
	vals, err := limiterScript.Run(ctx, b.rdb, []string{key}, args...).Result()
	if err != nil {
		return decision{}, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return decision{}, fmt.Errorf("unexpected script result %#v", vals)
	}
	return decision{
		allowed:    asInt64(arr[0]) == 1,
		remaining:  asInt64(arr[1]),
		retryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// localBucket keeps one x/time/rate limiter per key in process memory.
// Idle keys are pruned inline once the map grows past pruneAbove.
type localBucket struct {
	cfg        config.RateLimitConfig
	mu         sync.Mutex
	buckets    map[string]*localEntry
	pruneAbove int
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLocalBucket(cfg config.RateLimitConfig) *localBucket {
	return &localBucket{cfg: cfg, buckets: map[string]*localEntry{}, pruneAbove: 500}
}

func (b *localBucket) take(_ context.Context, key string, now time.Time) (decision, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buckets) > b.pruneAbove {
		cutoff := now.Add(-b.cfg.TTL)
		for k, e := range b.buckets {
			if e.lastSeen.Before(cutoff) {
				delete(b.buckets, k)
			}
		}
	}
	e, ok := b.buckets[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(rate.Limit(b.cfg.Rate()), b.cfg.Capacity)}
		b.buckets[key] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return decision{retryAfter: b.cfg.RefillInterval}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return decision{retryAfter: delay}, nil
	}
	return decision{allowed: true, remaining: int64(math.Max(0, e.lim.TokensAt(now)))}, nil
}

// fallbackBucket uses Redis and drops to the local bucket while Redis is
// failing.
type fallbackBucket struct {
	primary  limiter
	fallback limiter
	logger   *slog.Logger
}

func (b *fallbackBucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
	d, err := b.primary.take(ctx, key, now)
	if err == nil {
		return d, nil
	}
	b.logger.WarnContext(ctx, "redis rate limit failed; using local bucket", slog.Any("error", err))
	return b.fallback.take(ctx, key, now)
}

// SubjectResolver names the caller of a bearer token from its verified
// claims alone. The global bucket runs before Authenticate, so it cannot
// rely on a principal in the context.
type SubjectResolver interface {
	TokenSubject(raw string) (string, bool)
}

// NewTokenBucket returns a rate limiting middleware. With a Redis client
// the buckets are shared through an atomic Lua script; without one, or
// while Redis errors, each process limits on its own. subjects may be nil,
// in which case callers without a principal in the context share the
// "anon" subject.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, subjects SubjectResolver, logger *slog.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if logger == nil {
		logger = slog.Default()
	}
	var l limiter = newLocalBucket(cfg)
	if rdb != nil {
		l = &fallbackBucket{primary: &redisBucket{cfg: cfg, rdb: rdb}, fallback: l, logger: logger}
	}
	return rateLimit(cfg, l, subjects, logger)
}

func rateLimit(cfg config.RateLimitConfig, l limiter, subjects SubjectResolver, logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c, rateSubject(c, subjects))
			d, err := l.take(c.Request().Context(), key, time.Now())
			if err != nil {
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if !d.allowed {
				secs := int(math.Ceil(d.retryAfter.Seconds()))
				h.Set("Retry-After", strconv.Itoa(secs))
				if cfg.Debug {
					logger.DebugContext(c.Request().Context(), "rate limited", slog.String("key", key), slog.Duration("retry_after", d.retryAfter))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":       "rate limit exceeded",
					"retry_after": secs,
				})
			}
			return next(c)
		}
	}
}

// rateSubject prefers an authenticated principal, then a valid bearer
// token. Invalid tokens count as anonymous.
func rateSubject(c echo.Context, subjects SubjectResolver) string {
	if _, ok := PrincipalFrom(c); ok || subjects == nil {
		return subjectKey(c)
	}
	if raw := BearerToken(c); raw != "" {
		if sub, ok := subjects.TokenSubject(raw); ok {
			return sub
		}
	}
	return "anon"
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context, sub string) string {
	parts := []string{cfg.Prefix}
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	route := c.Request().Method + " " + c.Path()

	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", sub)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", sub)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", sub, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", sub, "route", route)
	}
	return strings.Join(parts, ":")
}
