package server

import (
	"context"
	"time"

	"safevision/internal/alert"
	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/frame"
	"safevision/internal/monitor"
	"safevision/internal/session"
)

type Sessions interface {
	Connect(id, userAgent, clientAddr string) (session.Session, error)
	Disconnect(ctx context.Context, id string) (dao.SessionSummary, error)
	RecordFrame(id string) error
	GetStats() dao.SessionStats
}

type Pipeline interface {
	Submit(in frame.Input, sessionID string) (bool, error)
	Next(ctx context.Context) (*frame.ProcessedFrame, error)
	QueueStatus() dao.QueueStatus
	SuspicionLevel() int
}

type Alerts interface {
	GetRecent(limit int) []alert.Alert
}

type Monitor interface {
	Start(ctx context.Context)
	Stop()
	CurrentStatus(ctx context.Context) (monitor.Status, error)
	CheckQueuePerformance(incoming, outgoing int)
	GetTrends(hours float64) monitor.Trends
	Thresholds() map[string]config.Threshold
	UpdateThresholds(patch map[string]monitor.ThresholdPatch) map[string]config.Threshold
}

type Recordings interface {
	StartRecording(sessionID string) (dao.RecordingInfo, error)
	StopRecording(sessionID string) (dao.RecordingInfo, error)
	Status(sessionID string) (dao.RecordingInfo, bool)
	IsRecording(sessionID string) bool
	AddFrame(sessionID string, payload []byte) (bool, error)
	List() ([]dao.RecordingInfo, error)
	Path(filename string) (string, error)
	ThumbnailPath(filename string) (string, error)
	StorageInfo() (dao.StorageInfo, error)
	Delete(filename string) error
	Cleanup(maxAge time.Duration) (dao.CleanupResult, error)
}

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Sessions   Sessions
	Pipeline   Pipeline
	Alerts     Alerts
	Monitor    Monitor
	Recordings Recordings
}
