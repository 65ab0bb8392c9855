package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/auth"
	"github.com/iliyamo/club-event-registration/internal/middleware"
	"github.com/iliyamo/club-event-registration/internal/registration"
)

// RegistrationHandler serves student registrations and the admin roster
// views.
type RegistrationHandler struct {
	Registrations *registration.Service
}

func NewRegistrationHandler(svc *registration.Service) *RegistrationHandler {
	if svc == nil {
		panic("nil registration service passed to NewRegistrationHandler")
	}
	return &RegistrationHandler{Registrations: svc}
}

func studentFrom(c echo.Context) (auth.StudentPrincipal, error) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return auth.StudentPrincipal{}, auth.ErrTokenMissing
	}
	return auth.RequireStudent(p)
}

// Register handles POST /api/registrations/:kind/:id, where id is an
// object id or a registration link.
func (h *RegistrationHandler) Register(c echo.Context) error {
	st, err := studentFrom(c)
	if err != nil {
		return err
	}
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	entry, err := h.Registrations.Register(ctx, st, kind, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"message":      "registration successful",
		"registration": entry,
	})
}

// Mine handles GET /api/registrations/my-registrations.
func (h *RegistrationHandler) Mine(c echo.Context) error {
	st, err := studentFrom(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	out, err := h.Registrations.MyRegistrations(ctx, st)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// Roster handles GET /api/registrations/:kind/:id/roster (admin).
func (h *RegistrationHandler) Roster(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	r, err := h.Registrations.Roster(ctx, kind, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// Export handles GET /api/registrations/:kind/:id/export/:format (admin).
// The roster is returned as a file download.
func (h *RegistrationHandler) Export(c echo.Context) error {
	kind, err := kindParam(c)
	if err != nil {
		return err
	}
	format, err := registration.ParseFormat(c.Param("format"))
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	out, err := h.Registrations.ExportRoster(ctx, kind, c.Param("id"), format)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+out.Filename+`"`)
	return c.Blob(http.StatusOK, out.ContentType, out.Body)
}
