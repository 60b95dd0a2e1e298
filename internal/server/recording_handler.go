package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"safevision/internal/dao"
)

const defaultCleanupDays = 30

func (s *Server) handleStartRecording(c *gin.Context) {
	var req dao.StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	info, err := s.recordings.StartRecording(req.SessionId)
	if err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStopRecording(c *gin.Context) {
	var req dao.StopRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, err)
		return
	}
	info, err := s.recordings.StopRecording(req.SessionId)
	if err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleRecordingStatus(c *gin.Context) {
	sessionId := c.Param("session_id")
	info, ok := s.recordings.Status(sessionId)
	if !ok {
		c.JSON(http.StatusOK, dao.RecordingStatusResponse{SessionId: sessionId, Status: "not_recording"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleStorageInfo(c *gin.Context) {
	info, err := s.recordings.StorageInfo()
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleListRecordings(c *gin.Context) {
	list, err := s.recordings.List()
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, dao.RecordingList{Recordings: list})
}

func (s *Server) handleDownloadRecording(c *gin.Context) {
	filename := c.Param("filename")
	path, err := s.recordings.Path(filename)
	if err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.FileAttachment(path, filename)
}

func (s *Server) handleRecordingThumbnail(c *gin.Context) {
	path, err := s.recordings.ThumbnailPath(c.Param("filename"))
	if err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(path)
}

func (s *Server) handleDeleteRecording(c *gin.Context) {
	filename := c.Param("filename")
	if err := s.recordings.Delete(filename); err != nil {
		s.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": filename})
}

func (s *Server) handleCleanupRecordings(c *gin.Context) {
	var req dao.CleanupRecordingsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, http.StatusBadRequest, err)
			return
		}
	}
	days := defaultCleanupDays
	if req.MaxAgeDays != nil {
		days = *req.MaxAgeDays
	}
	res, err := s.recordings.Cleanup(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		s.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
