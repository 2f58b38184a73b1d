package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/advisorly/courier/internal/api/handlers/delivery"
	"github.com/advisorly/courier/internal/api/handlers/fallback"
	"github.com/advisorly/courier/internal/api/handlers/template"
	"github.com/advisorly/courier/internal/api/handlers/webhook"
	"github.com/advisorly/courier/internal/middlewares"
)

func New(
	deliveryHandler *delivery.Handler,
	fallbackHandler *fallback.Handler,
	templateHandler *template.Handler,
	webhookHandler *webhook.Handler,
) *ginext.Engine {
	e := ginext.New("")
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api/delivery")
	{
		api.POST("/schedule", deliveryHandler.Schedule)
		api.POST("/send", deliveryHandler.SendNow)
		api.GET("/metrics", deliveryHandler.Metrics)
		api.GET("/:id", deliveryHandler.GetStatus)
		api.DELETE("/:id", deliveryHandler.Cancel)
	}

	fb := e.Group("/api/fallback")
	{
		fb.POST("/assign", fallbackHandler.Assign)
		fb.GET("/stats", fallbackHandler.Stats)
	}

	e.GET("/api/templates/:name/health", templateHandler.Health)

	wh := e.Group("/webhook/whatsapp")
	{
		wh.GET("/", webhookHandler.Verify)
		wh.POST("/", webhookHandler.Receive)
	}

	return e
}
