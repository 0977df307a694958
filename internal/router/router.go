package router

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/config"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/handler"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/middleware"
	"github.com/maricitechnology32/umiabroadstudy-sub003/internal/obs"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Log       zerolog.Logger
	JWTSecret string
	ClientURL string
	Users     middleware.UserLookup
	Recorder  middleware.Recorder
	Redis     *redis.Client

	RateLimit     config.RateLimitConfig
	AuthRateLimit config.RateLimitConfig
	Cache         config.CacheConfig

	Auth     *handler.AuthHandler
	Sessions *handler.SessionHandler
	Audit    *handler.AuditHandler
	Health   *handler.HealthHandler
}

// New builds the Echo instance with global middleware and every route.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Metrics())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(d.Log))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{d.ClientURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	RegisterRoutes(e, d)
	api := e.Group("/api/v1")
	RegisterAuth(api, d)
	RegisterSessions(api, d)
	RegisterAudit(api, d)
	return e
}

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo, d Deps) {
	if d.Health != nil {
		e.GET("/healthz", d.Health.Health)
	}
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))
}

func authenticate(d Deps) echo.MiddlewareFunc {
	return middleware.Authenticate(d.JWTSecret, d.Users, d.Log)
}
