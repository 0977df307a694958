package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness plus the reachability of the database
// and, when configured, Redis.
type HealthHandler struct {
	DB    *sql.DB
	Redis *redis.Client
}

// Health answers 200 with per-dependency status, or 503 when the
// database is unreachable.  Redis is optional and never fails the check.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := echo.Map{}
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			deps["database"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			deps["database"] = "ok"
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			deps["redis"] = "down"
		} else {
			deps["redis"] = "ok"
		}
	}
	return c.JSON(status, echo.Map{"status": http.StatusText(status), "deps": deps})
}
