package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleHealth(c *gin.Context) {
	components := gin.H{}
	healthy := true

	if s.redis != nil {
		if err := s.redis.Ping(c.Request.Context()).Err(); err != nil {
			components["redis"] = "unhealthy"
			healthy = false
		} else {
			components["redis"] = "healthy"
		}
	}

	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			components["database"] = "unhealthy"
			healthy = false
		} else {
			components["database"] = "healthy"
		}
	}

	status := http.StatusOK
	body := gin.H{"status": "healthy", "components": components}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
