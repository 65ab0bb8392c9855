package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/config"
	"github.com/iliyamo/club-event-registration/internal/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// FakeResolver is a programmable TokenResolver.
type FakeResolver struct {
	ResolveTokenFunc func(ctx context.Context, raw string) (auth.Principal, error)
}

func (f *FakeResolver) ResolveToken(ctx context.Context, raw string) (auth.Principal, error) {
	return f.ResolveTokenFunc(ctx, raw)
}

func resolverFor(tokens map[string]auth.Principal) *FakeResolver {
	return &FakeResolver{ResolveTokenFunc: func(_ context.Context, raw string) (auth.Principal, error) {
		if raw == "" {
			return nil, auth.ErrTokenMissing
		}
		p, ok := tokens[raw]
		if !ok {
			return nil, auth.ErrTokenInvalid
		}
		return p, nil
	}}
}

// newEcho mirrors the server's error handling closely enough for status
// assertions.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		_ = c.JSON(statusOf(err), map[string]string{"error": err.Error()})
	}
	return e
}

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.KindOf(err).Status()
}

func do(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticateAndRoles(t *testing.T) {
	resolver := resolverFor(map[string]auth.Principal{
		"admin-token":   auth.AdminPrincipal{Admin: model.Admin{ID: 1, Username: "root"}},
		"student-token": auth.StudentPrincipal{Student: model.Student{ID: 7}},
	})
	e := newEcho()
	whoami := func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		return c.String(http.StatusOK, subjectKey(c)+"|"+p.Kind())
	}
	g := e.Group("", Authenticate(resolver))
	g.GET("/any", whoami)
	g.GET("/admin", whoami, RequireAdmin())
	g.GET("/student", whoami, RequireStudent())

	tests := []struct {
		path, token string
		status      int
		body        string
	}{
		{"/any", "", http.StatusUnauthorized, ""},
		{"/any", "bogus", http.StatusUnauthorized, ""},
		{"/any", "admin-token", http.StatusOK, "admin-1|admin"},
		{"/admin", "admin-token", http.StatusOK, "admin-1|admin"},
		{"/admin", "student-token", http.StatusForbidden, ""},
		{"/student", "student-token", http.StatusOK, "student-7|student"},
		{"/student", "admin-token", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		rec := do(e, http.MethodGet, tt.path, tt.token)
		assert.Equal(t, tt.status, rec.Code, "%s with %q", tt.path, tt.token)
		if tt.body != "" {
			assert.Equal(t, tt.body, rec.Body.String())
		}
	}
}

func TestBearerToken(t *testing.T) {
	e := echo.New()
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, header)
		c := e.NewContext(req, httptest.NewRecorder())
		assert.Equal(t, want, BearerToken(c), "header %q", header)
	}
}

func rateConfig(capacity int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip_route",
		Prefix:         "test:rl",
	}
}

func TestTokenBucket_LocalFallback(t *testing.T) {
	e := newEcho()
	e.Use(NewTokenBucket(rateConfig(2), nil, nil, discard))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	e.GET("/other", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "").Code)
	rec := do(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	rec = do(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/other", "").Code, "buckets are per route")
}

func TestTokenBucket_Disabled(t *testing.T) {
	cfg := rateConfig(1)
	cfg.Enabled = false
	e := newEcho()
	e.Use(NewTokenBucket(cfg, nil, nil, discard))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/admin/login", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/auth/admin/login")

	cfg := rateConfig(1)
	assert.Equal(t, "test:rl:ip:10.0.0.9:route:POST /api/auth/admin/login", buildRateKey(cfg, c, rateSubject(c, nil)))

	cfg.KeyStrategy = "user"
	c.Set(principalKey, auth.StudentPrincipal{Student: model.Student{ID: 3}})
	assert.Equal(t, "test:rl:user:student-3", buildRateKey(cfg, c, rateSubject(c, nil)))
}

// FakeSubjects is a programmable SubjectResolver.
type FakeSubjects struct {
	TokenSubjectFunc func(raw string) (string, bool)
}

func (f *FakeSubjects) TokenSubject(raw string) (string, bool) {
	return f.TokenSubjectFunc(raw)
}

func TestRateSubject_BeforeAuthenticate(t *testing.T) {
	subjects := &FakeSubjects{TokenSubjectFunc: func(raw string) (string, bool) {
		switch raw {
		case "tok-a":
			return "student-1", true
		case "tok-b":
			return "student-2", true
		}
		return "", false
	}}
	ctxFor := func(token string) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/api/clubs", nil)
		if token != "" {
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
		}
		return echo.New().NewContext(req, httptest.NewRecorder())
	}

	assert.Equal(t, "student-1", rateSubject(ctxFor("tok-a"), subjects))
	assert.Equal(t, "anon", rateSubject(ctxFor("forged"), subjects))
	assert.Equal(t, "anon", rateSubject(ctxFor(""), subjects))
	assert.Equal(t, "anon", rateSubject(ctxFor("tok-a"), nil))

	cfg := rateConfig(1)
	cfg.KeyStrategy = "user"
	e := newEcho()
	e.Use(NewTokenBucket(cfg, nil, subjects, discard))
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "tok-a").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/ping", "tok-a").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "tok-b").Code, "each token has its own bucket")
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ping", "").Code)
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "test:cache",
		MaxBodyBytes: 1 << 10,
	}
}

func TestResponseCache_LocalHitMissPurge(t *testing.T) {
	rc := NewResponseCache(cacheConfig(), nil, discard)
	calls := 0
	e := newEcho()
	e.GET("/clubs/:id", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]any{"id": c.Param("id"), "calls": calls})
	}, rc.Middleware())
	e.GET("/missing", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusNotFound, map[string]string{"error": "listing not found"})
	}, rc.Middleware())
	e.POST("/clubs", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, PurgeOnWrite(rc))

	first := do(e, http.MethodGet, "/clubs/a", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := do(e, http.MethodGet, "/clubs/a", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.NotEmpty(t, second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)

	assert.Equal(t, "MISS", do(e, http.MethodGet, "/clubs/b", "").Header().Get("X-Cache"), "paths are cached separately")
	assert.Equal(t, "MISS", do(e, http.MethodGet, "/clubs/a?x=1", "").Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)

	do(e, http.MethodGet, "/missing", "")
	do(e, http.MethodGet, "/missing", "")
	assert.Equal(t, 5, calls, "non-200 responses are not cached")

	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/clubs", "").Code)
	assert.Equal(t, "MISS", do(e, http.MethodGet, "/clubs/a", "").Header().Get("X-Cache"), "writes purge the cache")

	rec := do(e, http.MethodGet, "/clubs/a", "some-token")
	assert.Empty(t, rec.Header().Get("X-Cache"), "authenticated requests bypass the cache")
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok)
}

func TestReplayableHeader(t *testing.T) {
	hdr := http.Header{
		"Content-Type":                     {"application/json"},
		"Access-Control-Allow-Origin":      {"http://localhost:3000"},
		"Access-Control-Allow-Credentials": {"true"},
		"Vary":                             {"Origin"},
		"X-Request-Id":                     {"abc"},
		"X-Cache":                          {"MISS"},
		"Content-Length":                   {"7"},
	}
	got := replayableHeader(hdr)
	assert.Equal(t, http.Header{"Content-Type": {"application/json"}}, got)
	assert.Len(t, hdr, 7, "the source header is not modified")
}
