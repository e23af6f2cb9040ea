package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing service answers
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	env           string
	store         Pinger
	redis         Pinger
	messengerMode string
	started       time.Time
}

// NewHealthHandler builds the health endpoints. redis may be nil when it is not configured.
func NewHealthHandler(env string, store Pinger, redis Pinger, messengerMode string) *HealthHandler {
	return &HealthHandler{
		env:           env,
		store:         store,
		redis:         redis,
		messengerMode: messengerMode,
		started:       time.Now(),
	}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/healthcheck", h.Health)
	e.GET("/health/detailed", h.Detailed)
}

func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Server is running",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(h.started).Seconds(),
		"environment": h.env,
	})
}

// Detailed pings the store and redis. A down store answers 503; redis is optional.
func (h *HealthHandler) Detailed(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	database := "connected"
	if err := h.store.Ping(ctx); err != nil {
		database = "disconnected"
		status = http.StatusServiceUnavailable
	}

	redis := "disabled"
	if h.redis != nil {
		redis = "connected"
		if err := h.redis.Ping(ctx); err != nil {
			redis = "disconnected"
		}
	}

	return c.JSON(status, map[string]interface{}{
		"success": status == http.StatusOK,
		"message": "Health check completed",
		"services": map[string]string{
			"database":  database,
			"redis":     redis,
			"messaging": h.messengerMode,
		},
		"timestamp": time.Now().UTC(),
	})
}
