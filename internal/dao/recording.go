package dao

import "time"

type RecordingStatus string

const (
	RecordingStatusRecording RecordingStatus = "recording"
	RecordingStatusCompleted RecordingStatus = "completed"
	RecordingStatusFailed    RecordingStatus = "failed"
	RecordingStatusArchived  RecordingStatus = "archived"
)

// RecordingInfo describes one recording, live or finished.
type RecordingInfo struct {
	SessionId       string          `json:"session_id,omitempty"`
	Filename        string          `json:"filename"`
	Filepath        string          `json:"filepath"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	FrameCount      int             `json:"frame_count"`
	Status          RecordingStatus `json:"status"`
	ThumbnailPath   string          `json:"thumbnail_path,omitempty"`
	DurationSeconds float64         `json:"duration_seconds"`
	FileSizeMB      float64         `json:"file_size_mb"`
	AutoStopped     bool            `json:"auto_stopped,omitempty"`
}

type StartRecordingRequest struct {
	SessionId string `json:"session_id" binding:"required,sessionid"`
}

type StopRecordingRequest struct {
	SessionId string `json:"session_id" binding:"required,sessionid"`
}

// CleanupRecordingsRequest defaults to 30 days when MaxAgeDays is absent.
type CleanupRecordingsRequest struct {
	MaxAgeDays *int `json:"max_age_days" binding:"omitempty,gte=1"`
}

type RecordingList struct {
	Recordings []RecordingInfo `json:"recordings"`
}

// RecordingStatusResponse is returned for a session with no live or
// finished recording.
type RecordingStatusResponse struct {
	SessionId string `json:"session_id"`
	Status    string `json:"status"`
}

type CleanupResult struct {
	DeletedCount int     `json:"deleted_count"`
	FreedMB      float64 `json:"freed_mb"`
}

type StorageInfo struct {
	Directory       string  `json:"directory"`
	FileCount       int     `json:"file_count"`
	TotalSizeMB     float64 `json:"total_size_mb"`
	LastArchiveTime *int64  `json:"last_archive_time,omitempty"` // unix seconds, unset before the first archive pass
}
