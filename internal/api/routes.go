package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jroosing/hydranamed/internal/api/handlers"
	"github.com/jroosing/hydranamed/internal/api/middleware"
	"github.com/jroosing/hydranamed/internal/metrics"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/jroosing/hydranamed/internal/api/docs" // swagger docs
)

// RegisterRoutes mounts the API under /api/v1, the Prometheus handler at
// /metrics and the Swagger UI at /swagger. Only /api/v1/health and the
// Swagger UI are reachable without the API key.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, apiKey string) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api/v1")
	api.GET("/health", h.Health)

	protected := api.Group("")
	if apiKey != "" {
		protected.Use(middleware.RequireAPIKey(apiKey))
	}
	protected.GET("/status", h.Status)
	protected.POST("/reload", h.Reload)
	protected.GET("/views", h.ListViews)
	protected.GET("/views/:view/zones", h.ListZones)
	protected.GET("/views/:view/zones/:zone", h.GetZone)
	protected.GET("/views/:view/cache", h.DumpCache)

	m := r.Group("/metrics")
	if apiKey != "" {
		m.Use(middleware.RequireAPIKey(apiKey))
	}
	m.GET("", gin.WrapH(metrics.Handler()))
}
