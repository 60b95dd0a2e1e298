package dao

import "time"

// SessionSummary is the durable record emitted when a client disconnects.
type SessionSummary struct {
	SessionId       string    `json:"session_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	FramesSent      int64     `json:"frames_sent"`
	FramesProcessed int64     `json:"frames_processed"`
	AlertsGenerated int64     `json:"alerts_generated"`
	UserAgent       string    `json:"user_agent"`
	IpAddress       string    `json:"ip_address"`
	DurationSeconds int64     `json:"duration_seconds"`
}

type SessionView struct {
	Id                string  `json:"id"`
	Duration          float64 `json:"duration"`
	FramesSent        int64   `json:"frames_sent"`
	FramesProcessed   int64   `json:"frames_processed"`
	AlertsGenerated   int64   `json:"alerts_generated"`
	TimeSinceActivity float64 `json:"time_since_activity"`
	UserAgent         string  `json:"user_agent"`
}

type SessionStats struct {
	TotalSessions        int64         `json:"total_sessions"`
	ActiveCount          int           `json:"active_count"`
	TotalFramesProcessed int64         `json:"total_frames_processed"`
	LastActivity         *time.Time    `json:"last_activity"`
	ActiveSessions       []SessionView `json:"active_sessions"`
	AvgFramesPerSession  float64       `json:"avg_frames_per_session"`
	ProcessingStatus     bool          `json:"processing_status"`
}

type QueueStatus struct {
	IsProcessing       bool   `json:"is_processing"`
	IncomingQueueSize  int    `json:"incoming_queue_size"`
	ProcessedQueueSize int    `json:"processed_queue_size"`
	MaxQueueSize       int    `json:"max_queue_size"`
	IncomingDropped    uint64 `json:"incoming_dropped"`
	OutgoingDropped    uint64 `json:"outgoing_dropped"`
}

type SystemStatus struct {
	System     any          `json:"system"`
	Processing QueueStatus  `json:"processing"`
	Sessions   SessionStats `json:"sessions"`
}
