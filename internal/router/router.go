// Package router wires handlers and middleware into the echo instance.
package router

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/club-event-registration/internal/config"
	"github.com/iliyamo/club-event-registration/internal/handler"
	"github.com/iliyamo/club-event-registration/internal/middleware"
)

// Deps is everything New needs to build the API.
type Deps struct {
	Auth          *handler.AuthHandler
	Catalog       *handler.CatalogHandler
	Registrations *handler.RegistrationHandler
	Health        *handler.HealthHandler

	Tokens middleware.TokenResolver
	Cache  *middleware.ResponseCache
	Redis  *redis.Client // nil keeps rate limiting in process

	StudentAuthMode string
	CORSOrigins     []string
	RateLimit       config.RateLimitConfig
	Gatherer        prometheus.Gatherer // nil hides /metrics

	Logger *slog.Logger
}

// New returns a configured echo instance serving the API under /api.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(d.Logger)

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		ExposeHeaders:    []string{echo.HeaderContentDisposition},
		AllowCredentials: true,
	}))
	subjects, _ := d.Tokens.(middleware.SubjectResolver)
	e.Use(middleware.NewTokenBucket(d.RateLimit, d.Redis, subjects, d.Logger))

	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	RegisterHealth(api, d.Health)
	RegisterAuth(api, d)
	RegisterCatalog(api, d)
	RegisterStudent(api, d)
	RegisterRoster(api, d)
	return e
}

// RegisterHealth exposes the liveness and connectivity probes.
func RegisterHealth(api *echo.Group, h *handler.HealthHandler) {
	api.GET("/health", h.Health)
	api.GET("/health/db", h.DB)
}

// RegisterAuth mounts the login routes. Only the student routes of the
// configured auth mode exist; the others answer 404.
func RegisterAuth(api *echo.Group, d Deps) {
	strict := middleware.NewTokenBucket(d.RateLimit.ForAuth(), d.Redis, nil, d.Logger)
	g := api.Group("/auth")

	g.POST("/admin/login", d.Auth.AdminLogin, strict)
	switch d.StudentAuthMode {
	case config.StudentAuthGoogle:
		g.POST("/student/google", d.Auth.StudentGoogle, strict)
		g.POST("/student/profile", d.Auth.CompleteProfile)
		g.GET("/student/years", d.Auth.Years)
	default:
		g.POST("/student/register", d.Auth.StudentRegister, strict)
		g.POST("/student/login", d.Auth.StudentLogin, strict)
	}

	g.GET("/me", d.Auth.Me, middleware.Authenticate(d.Tokens))
}
