package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// ServiceName - имя сервиса в трейсах HTTP.
const ServiceName = "bakery-order-service"

// NewRouter собирает gin-роутер с трассировкой, логированием и идентификацией.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(ServiceName), h.accessLog())

	v1 := router.Group("/v1", h.identity())
	v1.POST("/checkout", h.requireRole(domain.RoleCustomer), h.checkout)
	v1.GET("/orders", h.listOrders)
	v1.GET("/orders/:id", h.getOrder)
	v1.POST("/orders/:id/transitions", h.transition)
	v1.GET("/orders/:id/events", h.streamOrder)
	v1.GET("/branches/:id/events", h.streamBranch)
	v1.GET("/customers/:id/events", h.streamCustomer)
	v1.GET("/events", h.streamAll)
	v1.GET("/inventory/:id", h.getInventory)

	internal := router.Group("/internal", h.identity(), h.requireRole(domain.RoleAdmin))
	internal.POST("/payments/confirmations", h.recordPayment)
	internal.PUT("/inventory/:id", h.upsertInventory)

	return router
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		entry := h.logger.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(started),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	}
}
