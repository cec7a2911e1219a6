package monitoring

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts /health and /status on r.
func RegisterRoutes(r gin.IRoutes, monitor *Monitor) {
	r.GET("/health", healthHandler(monitor))
	r.GET("/status", statusHandler(monitor))
}

func healthHandler(monitor *Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if monitor.IsHealthy() {
			c.String(http.StatusOK, fmt.Sprintf("OK - %s", monitor.GetStatusSummary()))
			return
		}
		c.String(http.StatusServiceUnavailable, fmt.Sprintf("Service unhealthy - %s", monitor.GetStatusSummary()))
	}
}

func statusHandler(monitor *Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, monitor.Stats())
	}
}
