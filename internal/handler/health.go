package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/evee/internal/database"
)

// MetaHandler serves the welcome, index and health endpoints.
type MetaHandler struct {
	db *database.DB
}

func NewMetaHandler(db *database.DB) *MetaHandler {
	return &MetaHandler{db: db}
}

// Root greets API clients hitting the bare host.
func (h *MetaHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "Welcome to Evee API"})
}

// Index lists the resource groups exposed under /api.
func (h *MetaHandler) Index(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Evee API",
		"endpoints": echo.Map{
			"auth":     "/api/auth",
			"stations": "/api/stations",
			"bookings": "/api/bookings",
			"users":    "/api/users",
			"live":     "/api/stations/live",
			"health":   "/api/health",
		},
	})
}

// Health reports whether the process and its store are reachable.  A
// process running on the in-memory fallback store is still healthy but
// says so.
func (h *MetaHandler) Health(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status":   "ERROR",
			"message":  "Database unreachable",
			"database": string(h.db.Dialect),
			"fallback": h.db.Fallback,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":   "OK",
		"message":  "Server is running",
		"database": string(h.db.Dialect),
		"fallback": h.db.Fallback,
	})
}
