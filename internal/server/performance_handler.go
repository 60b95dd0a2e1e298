package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"safevision/internal/dao"
	"safevision/internal/monitor"
)

const (
	defaultAlertLimit  = 10
	defaultTrendsHours = 24
)

func (s *Server) handlePerformanceStatus(c *gin.Context) {
	status, err := s.monitor.CurrentStatus(c.Request.Context())
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handlePerformanceAlerts(c *gin.Context) {
	var req dao.AlertsQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultAlertLimit
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.alerts.GetRecent(req.Limit)})
}

func (s *Server) handlePerformanceTrends(c *gin.Context) {
	var req dao.TrendsQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	if req.Hours == 0 {
		req.Hours = defaultTrendsHours
	}
	c.JSON(http.StatusOK, s.monitor.GetTrends(req.Hours))
}

func (s *Server) handleGetThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Thresholds())
}

func (s *Server) handleUpdateThresholds(c *gin.Context) {
	var patch map[string]monitor.ThresholdPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	if len(patch) == 0 {
		s.writeError(c, http.StatusBadRequest, errors.New("no threshold data provided"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"thresholds": s.monitor.UpdateThresholds(patch),
	})
}

func (s *Server) handleStartMonitoring(c *gin.Context) {
	s.monitor.Start(context.WithoutCancel(c.Request.Context()))
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Performance monitoring started"})
}

func (s *Server) handleStopMonitoring(c *gin.Context) {
	s.monitor.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Performance monitoring stopped"})
}
