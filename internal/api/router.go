// Package api HTTP-граница защищённого приложения: проверка World ID, выпуск
// платёжных ссылок и их подтверждение.
package api

import (
	"net/http"

	"storefront_gateway/internal/metrics"
	"storefront_gateway/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	verificationService service.VerificationService
	paymentService      service.PaymentService
	logger              *zap.Logger
}

func NewHandler(verificationService service.VerificationService, paymentService service.PaymentService, logger *zap.Logger) *Handler {
	return &Handler{
		verificationService: verificationService,
		paymentService:      paymentService,
		logger:              logger,
	}
}

// NewRouter собирает gin.Engine со всеми маршрутами
func NewRouter(h *Handler, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(logger), m.Middleware())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	routes := router.Group("/api")
	routes.POST("/verify", h.Verify)
	routes.POST("/initiate-payment", h.InitiatePayment)
	routes.POST("/confirm-payment", h.ConfirmPayment)
	routes.GET("/payments/:id", h.GetPayment)

	return router
}
