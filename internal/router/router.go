// Package router assembles the echo instance: global middleware, the
// error handler and every /api route.
package router

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/evee/internal/config"
	"github.com/iliyamo/evee/internal/database"
	"github.com/iliyamo/evee/internal/handler"
	"github.com/iliyamo/evee/internal/live"
	"github.com/iliyamo/evee/internal/middleware"
	"github.com/iliyamo/evee/internal/policy"
	"github.com/iliyamo/evee/internal/service"
)

// Deps carries everything the routes need.  Redis and Hub may be nil;
// caching, rate limiting and the live feed are then disabled.
type Deps struct {
	Config    config.Config
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Logger    *zap.Logger
	DB        *database.DB
	Redis     *redis.Client
	Hub       *live.Hub

	Auth     *service.AuthService
	Stations *service.StationService
	Bookings *service.BookingService
	Users    *service.UserService
}

// New builds the HTTP application.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(d.Config.IsProduction(), d.Logger)

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(d.Logger))
	e.Use(echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			d.Logger.Error("panic recovered",
				zap.String("uri", c.Request().RequestURI),
				zap.Error(err),
				zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     d.Config.AllowedOrigins(),
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	meta := handler.NewMetaHandler(d.DB)
	e.GET("/", meta.Root)

	api := e.Group("/api", middleware.RateLimit(d.RateLimit, d.Redis, d.Logger))
	api.GET("", meta.Index)
	api.GET("/health", meta.Health)

	authn := middleware.Authenticate(d.Auth)
	registerAuth(api, handler.NewAuthHandler(d.Auth), middleware.OptionalAuth(d.Auth))
	registerStations(api, handler.NewStationHandler(d.Stations), d, authn)
	registerBookings(api, handler.NewBookingHandler(d.Bookings), authn)
	registerUsers(api, handler.NewUserHandler(d.Users), authn)
	return e
}

func registerAuth(api *echo.Group, h *handler.AuthHandler, optional echo.MiddlewareFunc) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout, optional)
}

func registerStations(api *echo.Group, h *handler.StationHandler, d Deps, authn echo.MiddlewareFunc) {
	g := api.Group("/stations")
	if d.Hub != nil {
		g.GET("/live", echo.WrapHandler(d.Hub))
	}

	cache := middleware.ResponseCache(d.Cache, d.Redis, d.Logger)
	g.GET("", h.List, cache)
	g.GET("/:id", h.Get, cache)

	write := middleware.Authorize(policy.ActionStationWrite)
	g.POST("", h.Create, authn, write)
	g.PUT("/:id", h.Update, authn, write)
	g.DELETE("/:id", h.Delete, authn, write)
}

func registerBookings(api *echo.Group, h *handler.BookingHandler, authn echo.MiddlewareFunc) {
	g := api.Group("/bookings", authn)
	g.GET("", h.ListMine)
	g.GET("/all", h.ListAll, middleware.Authorize(policy.ActionBookingListAll))
	g.GET("/:id", h.Get)
	g.POST("", h.Create)
	g.PUT("/:id", h.UpdateStatus)
	g.DELETE("/:id", h.Delete, middleware.Authorize(policy.ActionBookingDelete))
}

func registerUsers(api *echo.Group, h *handler.UserHandler, authn echo.MiddlewareFunc) {
	g := api.Group("/users", authn)
	g.GET("/me", h.Me)
	g.PUT("/me", h.UpdateMe)
	g.PUT("/password", h.ChangePassword)
	g.POST("/favorites/:stationId", h.AddFavorite)
	g.DELETE("/favorites/:stationId", h.RemoveFavorite)
	g.GET("", h.List, middleware.Authorize(policy.ActionUserList))
	g.PUT("/:id", h.ChangeRole, middleware.Authorize(policy.ActionUserSetRole))
}
