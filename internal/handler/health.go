package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/database"
)

// Pinger reports whether a store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness and connectivity probes used by load
// balancers and the frontend status page.
type HealthHandler struct {
	Mongo    *database.Mongo // nil in demo mode
	HasURI   bool            // a MongoDB URI was configured
	Identity Pinger
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

type dbHealthResp struct {
	Status     string `json:"status"`
	ReadyState int    `json:"ready_state"`
	HasURI     bool   `json:"has_uri"`
	DemoMode   bool   `json:"demo_mode"`
	Identity   string `json:"identity"`
}

// DB handles GET /api/health/db. It always answers 200; the body carries
// the catalog connection state and whether the identity store responds.
func (h *HealthHandler) DB(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	state := h.Mongo.State(ctx)
	identity := "connected"
	if h.Identity == nil {
		identity = "disconnected"
	} else if err := h.Identity.Ping(ctx); err != nil {
		identity = "disconnected"
	}
	return c.JSON(http.StatusOK, dbHealthResp{
		Status:     state.String(),
		ReadyState: int(state),
		HasURI:     h.HasURI,
		DemoMode:   h.Mongo == nil,
		Identity:   identity,
	})
}
