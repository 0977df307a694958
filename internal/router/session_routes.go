package router

import (
	"github.com/labstack/echo/v4"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// RegisterSessions registers /sessions.  Every route requires a valid
// access token; the admin routes additionally require an admin role.
func RegisterSessions(api *echo.Group, d Deps) {
	h := d.Sessions
	g := api.Group("/sessions",
		authenticate(d),
		middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log),
	)

	g.GET("/me", h.Mine)
	g.DELETE("/all/remove", h.RevokeOthers, middleware.AuditAccess(d.Recorder, "session"))

	admin := g.Group("/admin")
	admin.GET("/stats", h.Stats,
		middleware.Authorize(model.RoleSuperAdmin, model.RoleConsultancyAdmin),
		middleware.NewRedisCache(d.Cache, d.Redis, d.Log),
	)
	admin.POST("/cleanup", h.Cleanup,
		middleware.Authorize(model.RoleSuperAdmin),
		middleware.AuditAccess(d.Recorder, "session"),
	)

	g.DELETE("/:id", h.Revoke, middleware.AuditAccess(d.Recorder, "session"))
}

// RegisterAudit registers the admin audit listing.
func RegisterAudit(api *echo.Group, d Deps) {
	g := api.Group("/audit/admin",
		authenticate(d),
		middleware.Authorize(model.RoleSuperAdmin, model.RoleConsultancyAdmin),
	)
	g.GET("/logs", d.Audit.List, middleware.AuditAccess(d.Recorder, "audit_log"))
}
