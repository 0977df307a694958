package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/service"
)

// AuditHandler exposes the audit trail to admins.
type AuditHandler struct {
	Audit *service.AuditService
	Log   zerolog.Logger
}

func NewAuditHandler(audit *service.AuditService, log zerolog.Logger) *AuditHandler {
	return &AuditHandler{Audit: audit, Log: log.With().Str("component", "audit_handler").Logger()}
}

// List serves GET /audit/admin/logs?userId=&action=&status=&since=&until=&limit=&skip=.
// since and until are RFC 3339 timestamps.
func (h *AuditHandler) List(c echo.Context) error {
	f := model.AuditFilter{
		Action: c.QueryParam("action"),
		Status: c.QueryParam("status"),
	}
	if v := c.QueryParam("userId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return badRequest(c, "userId must be numeric")
		}
		f.UserID = &id
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		if v := c.QueryParam(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return badRequest(c, p.name+" must be an RFC 3339 timestamp")
			}
			*p.dst = &t
		}
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"skip", &f.Offset}} {
		if v := c.QueryParam(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return badRequest(c, p.name+" must be an integer")
			}
			*p.dst = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	page, err := h.Audit.List(ctx, f)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": page})
}
