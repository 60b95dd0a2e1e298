package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetUpRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestId())
	router.Use(Logger())
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/stream", s.handleStream)
	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, ErrorResponse{Error: "not found"})
	})

	apiV1 := router.Group("/api/v1")
	s.SetUpApiV1Router(apiV1)

	return router
}

func (s *Server) SetUpApiV1Router(apiV1 *gin.RouterGroup) {
	apiV1.GET("/session_stats", s.handleSessionStats)
	apiV1.GET("/system_status", s.handleSystemStatus)
	apiV1.GET("/confidence", s.handleConfidence)

	{
		perf := apiV1.Group("/performance")
		perf.GET("/status", s.handlePerformanceStatus)
		perf.GET("/alerts", s.handlePerformanceAlerts)
		perf.GET("/trends", s.handlePerformanceTrends)
		perf.GET("/thresholds", s.handleGetThresholds)
		perf.PUT("/thresholds", s.handleUpdateThresholds)
		perf.POST("/thresholds", s.handleUpdateThresholds)
		perf.POST("/start", s.handleStartMonitoring)
		perf.POST("/stop", s.handleStopMonitoring)
	}

	{
		rec := apiV1.Group("/recording")
		rec.POST("/start", s.handleStartRecording)
		rec.POST("/stop", s.handleStopRecording)
		rec.GET("/status/:session_id", s.handleRecordingStatus)
		rec.GET("/storage_info", s.handleStorageInfo)
	}

	{
		recs := apiV1.Group("/recordings")
		recs.GET("", s.handleListRecordings)
		recs.POST("/cleanup", s.handleCleanupRecordings)
		recs.GET("/:filename", s.handleDownloadRecording)
		recs.GET("/:filename/thumbnail", s.handleRecordingThumbnail)
		recs.DELETE("/:filename", s.handleDeleteRecording)
	}
}
