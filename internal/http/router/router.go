package router

import (
	"github.com/gin-gonic/gin"

	"scout.app/research/internal/http/handler"
)

func SetupRoutes(router *gin.Engine, researchHandler *handler.ResearchHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		ResearchRouter(v1.Group("/research"), researchHandler)
	}
}
