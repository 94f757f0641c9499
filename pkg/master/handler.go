package master

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-agentplane-go/pkg/errors"
)

// newRouter builds the operator HTTP surface.
func (m *Master) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	v1.POST("/stack/start", m.handleStackStart)
	v1.POST("/stack/stop", m.handleStackStop)
	v1.GET("/stack/status", m.handleStackStatus)

	registry := prometheus.NewRegistry()
	registry.MustRegister(newControlPlaneCollector(m))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}

func (m *Master) handleStackStart(c *gin.Context) {
	if err := m.StartStack(c.Request.Context()); err != nil {
		m.logger.Errorf("Stack start failed, error: %v", err)
		c.JSON(statusCodeFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m.Status())
}

func (m *Master) handleStackStop(c *gin.Context) {
	if err := m.StopStack(c.Request.Context()); err != nil {
		m.logger.Errorf("Stack stop failed, error: %v", err)
		c.JSON(statusCodeFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, m.Status())
}

func (m *Master) handleStackStatus(c *gin.Context) {
	c.JSON(http.StatusOK, m.Status())
}

func statusCodeFor(err error) int {
	switch {
	case errors.IsValidationError(err):
		return http.StatusBadRequest
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsConflictError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
