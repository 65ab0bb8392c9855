package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/middleware"
)

// RegisterCatalog mounts the club and event routes. Reads are public and
// cached; writes require an administrator and purge the cache.
//
// Middleware is attached per route so unknown /api paths still answer 404.
func RegisterCatalog(api *echo.Group, d Deps) {
	h := d.Catalog
	cached := d.Cache.Middleware()
	admin := []echo.MiddlewareFunc{
		middleware.Authenticate(d.Tokens),
		middleware.RequireAdmin(),
		middleware.PurgeOnWrite(d.Cache),
	}

	// ---- Clubs ----
	api.GET("/clubs", h.ListClubs, cached)
	api.GET("/clubs/categories", h.ClubCategories)
	api.GET("/clubs/:id", h.GetClub, cached)
	api.POST("/clubs", h.CreateClub, admin...)
	api.PUT("/clubs/:id", h.UpdateClub, admin...)
	api.PATCH("/clubs/:id", h.UpdateClub, admin...)
	api.DELETE("/clubs/:id", h.DeleteClub, admin...)
	api.POST("/clubs/:id/generate-link", h.GenerateClubLink, admin...)

	// ---- Events ----
	api.GET("/events", h.ListEvents, cached)
	api.GET("/events/categories", h.EventCategories)
	api.GET("/events/:id", h.GetEvent, cached)
	api.POST("/events", h.CreateEvent, admin...)
	api.PUT("/events/:id", h.UpdateEvent, admin...)
	api.PATCH("/events/:id", h.UpdateEvent, admin...)
	api.DELETE("/events/:id", h.DeleteEvent, admin...)
	api.POST("/events/:id/generate-link", h.GenerateEventLink, admin...)
}
