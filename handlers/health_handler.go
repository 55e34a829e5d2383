package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/roundup-invest/receipt-review/services"
	"github.com/roundup-invest/receipt-review/types"
)

// HealthHandler serves the health routes of the review service. Reports
// include redis (search cache and rate limits), the session registry and the
// learning queue, each with its fill level where bounded.
type HealthHandler struct {
	healthService *services.HealthService
}

func NewHealthHandler(healthService *services.HealthService) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

// LivenessCheck answers 200 while the process is serving requests.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}

// ReadinessCheck answers 503 when the service is down or no further review
// session can be opened, so load balancers route uploads elsewhere.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	health := h.healthService.CheckHealth(c.Request.Context())

	if !health.AcceptsSessions() {
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	c.JSON(http.StatusOK, health)
}

// DetailedHealth reports every component. A degraded service still answers
// 200; only a down service answers 503.
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	health := h.healthService.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if health.Status == types.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
