package http_api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes sets up the routes for the HTTP server.
func (s *HTTPServer) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/api/v1/status", s.status)
	s.router.GET("/api/v1/abandoned", s.abandoned)
	s.router.GET("/api/v1/config", s.config)

	if s.metricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
}
