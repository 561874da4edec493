package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/http/middleware"
)

type RouterDeps struct {
	MessageHandler   *MessageHandler
	WebhookHandler   *WebhookHandler
	ProviderHandler  *ProviderHandler
	HealthHandler    *HealthHandler
	MetricsHandler   *MetricsHandler
	WebSocketHandler *WebSocketHandler
	Logger           *zap.Logger
	RateLimit        int
}

func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Tracing())
	r.Use(middleware.Logging(deps.Logger))

	r.GET("/health", deps.HealthHandler.Liveness)
	r.GET("/health/ready", deps.HealthHandler.Readiness)

	r.GET("/ws", deps.WebSocketHandler.Handle)

	// Vendor callbacks are authenticated by signature, not rate limited;
	// dropping a delivery receipt loses the status forever.
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/twilio", deps.WebhookHandler.Twilio)
		webhooks.POST("/messagebird", deps.WebhookHandler.MessageBird)
	}

	limit := deps.RateLimit
	if limit <= 0 {
		limit = 200
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(float64(limit)))
	{
		messages := v1.Group("/messages")
		{
			messages.POST("", deps.MessageHandler.Create)
			messages.GET("", deps.MessageHandler.List)
			messages.GET("/:id", deps.MessageHandler.GetByID)
			messages.POST("/:id/refresh", deps.MessageHandler.RefreshStatus)
			messages.PATCH("/:id/cancel", deps.MessageHandler.Cancel)
		}

		providers := v1.Group("/providers")
		{
			providers.GET("", deps.ProviderHandler.List)
			providers.POST("/switch", deps.ProviderHandler.Switch)
		}

		v1.GET("/metrics", deps.MetricsHandler.GetMetrics)
	}

	return r
}
