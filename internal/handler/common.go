package handler

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/club-event-registration/internal/apperr"
	"github.com/iliyamo/club-event-registration/internal/model"
)

// requestTimeout bounds every store call made on behalf of a request.
const requestTimeout = 5 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// bind decodes the body into dst and runs the registered validator.
func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(dst)
}

// kindParam reads the :kind path parameter (club, clubs, event or events).
func kindParam(c echo.Context) (model.Kind, error) {
	k, ok := model.ParseKind(c.Param("kind"))
	if !ok {
		return "", apperr.NotFound("unknown listing kind")
	}
	return k, nil
}

// accepted date layouts for listing timestamps, most specific first.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

// parseTime accepts RFC 3339 or the browser datetime-local and date
// forms, which are read as UTC.
func parseTime(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validation(field + " must be a date or RFC 3339 timestamp")
}
