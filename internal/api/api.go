// Package api exposes a read-only gin API over persisted build reports,
// plus a liveness probe and Prometheus metrics endpoint.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"buildforge/internal/metrics"
	"buildforge/internal/store"
)

// Handler serves the report API.
type Handler struct {
	store *store.Store
}

// NewHandler binds the API to a report store.
func NewHandler(s *store.Store) *Handler {
	return &Handler{store: s}
}

// RegisterRoutes wires the handler's endpoints onto a router group, mirroring
// the grouped-route registration pattern used throughout the platform.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Healthz)
	reports := router.Group("/reports")
	{
		reports.GET("/:buildID", h.GetBuildReport)
		reports.GET("/:buildID/packages/:name", h.GetPackageReport)
	}
}

// Healthz reports process liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetBuildReport returns the aggregate report for one build.
func (h *Handler) GetBuildReport(c *gin.Context) {
	buildID := c.Param("buildID")
	report, err := h.store.GetBuildReport(c.Request.Context(), buildID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "build report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetPackageReport returns one package's report within a build.
func (h *Handler) GetPackageReport(c *gin.Context) {
	buildID := c.Param("buildID")
	name := c.Param("name")
	report, err := h.store.GetPackageReport(c.Request.Context(), buildID, name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "package report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// NewRouter assembles the full gin engine: Prometheus middleware, the report
// routes under /api/v1, and the metrics endpoint.
func NewRouter(s *store.Store) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.PrometheusMiddleware())

	r.GET("/metrics", metrics.PrometheusHandler())

	v1 := r.Group("/api/v1")
	NewHandler(s).RegisterRoutes(v1)

	return r
}
