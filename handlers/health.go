package handlers

import (
	"net/http"

	"chat-relay-service/version"

	"github.com/gin-gonic/gin"
)

// HealthCheck returns service health status
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": version.Service,
	})
}

// Version returns build information
func Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}
