package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/middleware"
)

// RegisterStudent mounts the student registration routes. Every route
// requires a student token. A registration changes the public counts, so
// it purges the catalog cache.
func RegisterStudent(api *echo.Group, d Deps) {
	h := d.Registrations
	student := []echo.MiddlewareFunc{
		middleware.Authenticate(d.Tokens),
		middleware.RequireStudent(),
	}

	api.GET("/registrations/my-registrations", h.Mine, student...)
	api.POST("/registrations/:kind/:id", h.Register, append(student, middleware.PurgeOnWrite(d.Cache))...)
}

// RegisterRoster mounts the administrator roster views.
func RegisterRoster(api *echo.Group, d Deps) {
	h := d.Registrations
	admin := []echo.MiddlewareFunc{
		middleware.Authenticate(d.Tokens),
		middleware.RequireAdmin(),
	}

	api.GET("/registrations/:kind/:id/roster", h.Roster, admin...)
	api.GET("/registrations/:kind/:id/export/:format", h.Export, admin...)
}
