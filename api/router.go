package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidpipe/config"
	"vidpipe/logger"
)

func SetupRouter(h *Handler, cfg *config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(log))
	r.MaxMultipartMemory = 32 << 20

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Produced artifacts, served the way the player expects them.
	r.Static("/outputs", cfg.OutputDir)

	api := r.Group("/api")
	api.Use(AuthMiddleware(cfg))
	{
		api.POST("/process-video", h.handleProcessVideo)
		api.GET("/jobs", h.handleListJobs)
		api.GET("/job/:jobId", h.handleGetJob)
		api.POST("/job/:jobId/cancel", h.handleCancelJob)
		api.GET("/job/:jobId/subtitles.vtt", h.handleGetSubtitles)
		api.GET("/job/:jobId/segments", h.handleGetSegments)
	}
	return r
}
