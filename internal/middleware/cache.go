package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/club-event-registration/internal/config"
)

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) { cw.status = code; cw.ResponseWriter.WriteHeader(code) }

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// cacheKeyFrom builds a stable key from the request path (not the route
// pattern, so /clubs/a and /clubs/b differ) and, by default, the query.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	parts := []string{"path", r.URL.Path}
	if strings.ToLower(cfg.KeyStrategy) != "route" {
		parts = append(parts, "q", r.URL.RawQuery)
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%x", cfg.Prefix, sum[:])
}

// replayableHeader copies h without the headers that belong to a single
// request. CORS, RequestID and the cache itself set those again on
// every hit, so replaying them would duplicate values.
func replayableHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vals := range h {
		ck := http.CanonicalHeaderKey(k)
		switch {
		case strings.HasPrefix(ck, "Access-Control-"),
			ck == echo.HeaderVary,
			ck == echo.HeaderXRequestID,
			ck == echo.HeaderContentLength,
			ck == echo.HeaderSetCookie,
			ck == "X-Cache":
			continue
		}
		out[ck] = append([]string(nil), vals...)
	}
	return out
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:8+len(hdrJSON)], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	hdr := make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &hdr); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, hdr, bs[8+hlen:], true
}

// ResponseCache caches successful public responses in Redis, or in a
// process local go-cache when Redis is not configured. Purge drops every
// cached response; the admin routes call it after each write.
type ResponseCache struct {
	cfg    config.CacheConfig
	rdb    *redis.Client
	local  *gocache.Cache
	logger *slog.Logger
}

func NewResponseCache(cfg config.CacheConfig, rdb *redis.Client, logger *slog.Logger) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	rc := &ResponseCache{cfg: cfg, rdb: rdb, logger: logger}
	if rdb == nil {
		rc.local = gocache.New(cfg.TTL, 2*cfg.TTL)
	}
	return rc
}

func (rc *ResponseCache) get(ctx context.Context, key string) ([]byte, bool) {
	if rc.rdb == nil {
		v, ok := rc.local.Get(key)
		if !ok {
			return nil, false
		}
		bs, ok := v.([]byte)
		return bs, ok
	}
	bs, err := rc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			rc.logger.WarnContext(ctx, "cache read failed", slog.Any("error", err))
		}
		return nil, false
	}
	return bs, true
}

func (rc *ResponseCache) set(ctx context.Context, key string, payload []byte) {
	if rc.rdb == nil {
		rc.local.Set(key, payload, gocache.DefaultExpiration)
		return
	}
	if err := rc.rdb.SetEx(ctx, key, payload, rc.cfg.TTL).Err(); err != nil {
		rc.logger.WarnContext(ctx, "cache write failed", slog.Any("error", err))
	}
}

// Purge removes every response stored under the cache prefix.
func (rc *ResponseCache) Purge(ctx context.Context) error {
	if rc.rdb == nil {
		rc.local.Flush()
		return nil
	}
	iter := rc.rdb.Scan(ctx, 0, rc.cfg.Prefix+":*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 200 {
			if err := rc.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return rc.rdb.Del(ctx, keys...).Err()
	}
	return nil
}

// Middleware serves cached responses and stores 200 responses on a miss.
// Requests carrying credentials are never cached.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	if !rc.cfg.Enabled {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	maxBody := int64(rc.cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rc.cfg.Methods[strings.ToUpper(c.Request().Method)] || BearerToken(c) != "" {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKeyFrom(rc.cfg, c)

			if bs, ok := rc.get(ctx, key); ok {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range replayableHeader(hdr) {
						c.Response().Header()[k] = vals
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					if len(body) > 0 {
						_, _ = c.Response().Write(body)
					}
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			// A truncated body must not be replayed.
			if cw.status != http.StatusOK || (maxBody > 0 && cw.size > maxBody) {
				return nil
			}
			hdr := replayableHeader(c.Response().Header())
			if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
				rc.set(context.WithoutCancel(ctx), key, payload)
			}
			return nil
		}
	}
}

// PurgeOnWrite purges rc after every successful non-GET request it wraps.
func PurgeOnWrite(rc *ResponseCache) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			m := c.Request().Method
			if err != nil || m == http.MethodGet || m == http.MethodHead || c.Response().Status >= http.StatusBadRequest {
				return err
			}
			if perr := rc.Purge(c.Request().Context()); perr != nil {
				rc.logger.WarnContext(c.Request().Context(), "cache purge failed", slog.Any("error", perr))
			}
			return nil
		}
	}
}
