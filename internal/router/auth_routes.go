package router

import (
	"github.com/labstack/echo/v4"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/model"
)

// RegisterAuth registers /auth.  Credential endpoints share the stricter
// auth rate limit; the refresh cookie is scoped to this prefix.
func RegisterAuth(api *echo.Group, d Deps) {
	h := d.Auth
	strict := middleware.NewTokenBucket(d.AuthRateLimit, d.Redis, d.Log)
	general := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log)

	g := api.Group("/auth")
	g.POST("/register", h.Register, strict)
	g.POST("/login", h.Login, strict)
	g.POST("/forgotpassword", h.ForgotPassword, strict)
	g.PUT("/resetpassword/:token", h.ResetPassword, strict)

	g.POST("/refresh", h.Refresh, general)
	g.POST("/revoke", h.Revoke, general, middleware.OptionalAuth(d.JWTSecret, d.Users, d.Log))
	g.GET("/logout", h.Logout, middleware.OptionalAuth(d.JWTSecret, d.Users, d.Log))

	auth := authenticate(d)
	g.GET("/me", h.Me, auth)
	g.PUT("/changepassword", h.ChangePassword, auth, strict, middleware.AuditAccess(d.Recorder, "user"))
	g.PUT("/admin/users/:id/unlock", h.UnlockUser,
		auth,
		middleware.Authorize(model.RoleSuperAdmin, model.RoleConsultancyAdmin),
		middleware.AuditAccess(d.Recorder, "user"),
	)
}
