// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	widgets WidgetCounter
}

// NewHealthHandler creates a new health handler. widgets may be nil.
func NewHealthHandler(version string, widgets WidgetCounter) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		widgets: widgets,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	count := 0
	if h.widgets != nil {
		count = h.widgets.Count()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"widgets": count,
	})
}
