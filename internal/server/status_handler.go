package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"safevision/internal/dao"
)

func (s *Server) handleSessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessions.GetStats())
}

// handleSystemStatus combines host, queue and session state. Reading it also
// feeds the current queue depths to the monitor.
func (s *Server) handleSystemStatus(c *gin.Context) {
	status, err := s.monitor.CurrentStatus(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	queues := s.pipeline.QueueStatus()
	s.monitor.CheckQueuePerformance(queues.IncomingQueueSize, queues.ProcessedQueueSize)

	c.JSON(http.StatusOK, dao.SystemStatus{
		System:     status,
		Processing: queues,
		Sessions:   s.sessions.GetStats(),
	})
}

func (s *Server) handleConfidence(c *gin.Context) {
	c.JSON(http.StatusOK, dao.ConfidenceResponse{Confidence: s.pipeline.SuspicionLevel()})
}
