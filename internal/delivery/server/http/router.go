package http

import (
	"net/http"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHeartbeatInterval = 15 * time.Second

// NewRouter wires every endpoint onto a gin engine.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := logging.OrNop(deps.Logger)
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger, deps.Metrics))
	engine.Use(corsMiddleware(cfg.AllowedOrigins))

	api := NewAPIHandler(deps.Sessions, deps.Channels, logger)
	streams := NewStreamHandler(deps.Sessions, deps.Metrics, cfg, logger)

	engine.GET("/health", api.HandleHealth)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	sessions := engine.Group("/api/sessions")
	{
		sessions.POST("", api.HandleCreateSession)
		sessions.GET("", api.HandleListSessions)
		sessions.GET("/:id", api.HandleGetSession)
		sessions.DELETE("/:id", api.HandleDeleteSession)
		sessions.POST("/:id/messages", api.HandleSendMessage)
		sessions.GET("/:id/events", streams.HandleSSE)
		sessions.GET("/:id/ws", streams.HandleWebSocket)
	}
	if deps.Channels != nil {
		engine.POST("/api/channels/:channel/inbound", api.HandleInbound)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, APIResponse{Success: false, Error: "not found"})
	})
	return engine
}
