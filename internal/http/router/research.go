package router

import (
	"github.com/gin-gonic/gin"

	"scout.app/research/internal/http/handler"
)

func ResearchRouter(group *gin.RouterGroup, h *handler.ResearchHandler) {
	group.POST("/stream", h.Stream)
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
}
