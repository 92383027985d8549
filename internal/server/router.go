package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/api/handler"
	"github.com/open-apime/relay/internal/api/middleware"
)

type Options struct {
	Env             string
	Logger          *zap.Logger
	Identity        middleware.IdentityLookup
	HealthHandler   *handler.HealthHandler
	AuthHandler     *handler.AuthHandler
	InstanceHandler *handler.InstanceHandler
	MetricsHandler  *handler.MetricsHandler
	LogHandler      *handler.LogHandler
	UserHandler     *handler.UserHandler
	RateLimit       middleware.RateLimitOption
	IPRateLimit     middleware.IPRateLimitOption
}

func NewRouter(opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", middleware.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}))

	opts.HealthHandler.Register(router)
	opts.AuthHandler.Register(router, middleware.IPRateLimit(opts.IPRateLimit))

	protected := router.Group("")
	protected.Use(middleware.RateLimit(opts.RateLimit))
	protected.Use(middleware.Auth(opts.Identity))

	opts.LogHandler.Register(protected)
	opts.InstanceHandler.Register(protected)
	opts.MetricsHandler.Register(protected)

	if opts.UserHandler != nil {
		admin := protected.Group("")
		admin.Use(middleware.RequireAdmin())
		opts.UserHandler.Register(admin)
	}

	return router
}
