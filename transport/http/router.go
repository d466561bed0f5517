package http

import (
	"log/slog"

	"github.com/0xfutbol/id/ports"
	"github.com/0xfutbol/id/service"
	"github.com/gin-gonic/gin"
)

// RouterConfig wires the router's collaborators. Identities, Metrics and a
// zero RateLimit are optional.
type RouterConfig struct {
	Claims     *service.ClaimService
	Identities *service.IdentityService
	Store      ports.IdentityStore
	Logger     *slog.Logger
	Metrics    *Metrics

	// RateLimit is requests per second per client IP on /auth routes.
	RateLimit float64
	RateBurst int
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.Instrument())
		router.GET("/metrics", cfg.Metrics.Handler())
	}

	router.GET("/health", Health)
	router.GET("/ready", Ready(cfg.Store, logger))

	handlers := NewAuthHandlers(cfg.Claims, cfg.Identities, logger)

	// Auth routes
	auth := router.Group("/auth")
	if cfg.RateLimit > 0 {
		auth.Use(RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	{
		auth.POST("/pre", handlers.Pre)
		auth.POST("/sign", handlers.Sign)
		auth.POST("/claim", handlers.Claim)
		auth.POST("/jwt", handlers.JWT)
		if cfg.Identities != nil {
			auth.POST("/register/password", handlers.RegisterPassword)
			auth.POST("/login/password", handlers.LoginPassword)
		}
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.Claims))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	return router
}
