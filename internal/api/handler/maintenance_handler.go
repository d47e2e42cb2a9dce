package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunMaintenance handles POST /internal/maintenance/run, the manual trigger
// for one full maintenance cycle. A reconciliation soft-failure is carried
// inside the summary, not as an HTTP error; only hard step failures turn
// into a 500.
func (h *MaintenanceHandler) RunMaintenance(c *gin.Context) {
	h.logger.Info("Manual maintenance cycle requested")

	summary, err := h.maintenance.RunCycle(c.Request.Context())
	if err != nil {
		h.logger.Error("Maintenance cycle failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Maintenance cycle failed",
			"summary": summary,
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Healthz handles GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
