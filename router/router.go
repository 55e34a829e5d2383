package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/roundup-invest/receipt-review/config"
	"github.com/roundup-invest/receipt-review/handlers"
	"github.com/roundup-invest/receipt-review/internal/websocket"
	"github.com/roundup-invest/receipt-review/middleware"
	"go.uber.org/zap"
)

// Dependencies struct holds all dependencies required for setting up routes.
type Dependencies struct {
	Config         *config.Config
	RedisClient    *redis.Client // optional; session creation is rate limited per process without it
	SessionHandler *handlers.SessionHandler
	HealthHandler  *handlers.HealthHandler
	WSHandler      *websocket.Handler
	Logger         *zap.SugaredLogger
}

// SetupRouter configures and returns the main Gin engine with all routes defined.
func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if err := r.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil && deps.Logger != nil {
		deps.Logger.Warnw("Invalid trusted proxies, ignoring forwarded headers", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	// Global Middleware
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.SecurityHeadersMiddleware(deps.Config))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Health and Metrics Routes
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	sessions := v1.Group("/sessions", middleware.BearerCredentials())
	{
		sessions.POST("",
			middleware.SessionCreateRateLimiter(deps.RedisClient, deps.Config.Sessions.CreatePerMinute, time.Minute),
			deps.SessionHandler.CreateSessionHandler,
		)
		sessions.GET("/:id", deps.SessionHandler.GetSessionHandler)
		sessions.DELETE("/:id", deps.SessionHandler.DeleteSessionHandler)
		sessions.GET("/:id/ws", deps.WSHandler.HandleWebSocket)
		sessions.GET("/:id/corrections", deps.SessionHandler.CorrectionsHandler)

		sessions.POST("/:id/upload", deps.SessionHandler.UploadReceiptHandler)
		sessions.POST("/:id/manual-entry", deps.SessionHandler.ManualEntryHandler)
		sessions.POST("/:id/reallocate", deps.SessionHandler.ReallocateHandler)
		sessions.POST("/:id/confirm", deps.SessionHandler.ConfirmHandler)
		sessions.POST("/:id/reset", deps.SessionHandler.ResetHandler)

		edit := sessions.Group("/:id/edit")
		{
			edit.POST("", deps.SessionHandler.BeginEditHandler)
			edit.PATCH("", deps.SessionHandler.EditFieldHandler)
			edit.DELETE("", deps.SessionHandler.CancelEditHandler)
			edit.GET("/suggestions", deps.SessionHandler.SuggestionsHandler)
			edit.POST("/select", deps.SessionHandler.SelectSuggestionHandler)
			edit.POST("/save", deps.SessionHandler.SaveEditsHandler)
		}
	}

	return r
}
