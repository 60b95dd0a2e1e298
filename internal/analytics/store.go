package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"safevision/internal/alert"
	"safevision/internal/dao"
	"safevision/internal/model"
	"safevision/pkg/log"
)

// Store persists session summaries, alerts and detections through the model
// package. It is a session summary sink, an alert subscriber and a detection
// recorder at the same time.
type Store struct {
	// recordAll stores every analyzed frame, otherwise only frames with a
	// behavior detected are kept.
	recordAll bool
	now       func() time.Time
	logger    *logrus.Entry
}

func NewStore(recordAll bool) *Store {
	return &Store{
		recordAll: recordAll,
		now:       time.Now,
		logger:    log.ComponentLogger("analytics"),
	}
}

func (s *Store) SaveSessionSummary(ctx context.Context, summary dao.SessionSummary) error {
	rec := &model.SessionRecord{
		SessionId:       summary.SessionId,
		StartTime:       summary.StartTime,
		EndTime:         summary.EndTime,
		FramesSent:      summary.FramesSent,
		FramesProcessed: summary.FramesProcessed,
		AlertsGenerated: summary.AlertsGenerated,
		UserAgent:       summary.UserAgent,
		IpAddress:       summary.IpAddress,
		DurationSeconds: summary.DurationSeconds,
	}
	if err := model.CreateSessionRecord(rec); err != nil {
		return fmt.Errorf("save session %s: %w", summary.SessionId, err)
	}
	log.GetLogger(ctx).WithField(log.CtxSessionId, summary.SessionId).
		Debugf("session summary saved, %d frames processed", summary.FramesProcessed)
	return nil
}

func (s *Store) HandleAlert(ctx context.Context, a alert.Alert) error {
	rec := &model.AlertRecord{
		AlertId:   a.ID,
		Type:      string(a.Type),
		Severity:  string(a.Severity),
		Message:   a.Message,
		Value:     a.Value,
		Threshold: a.Threshold,
		Source:    a.Source,
		Timestamp: a.Timestamp,
	}
	if len(a.Metadata) > 0 {
		meta, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal alert %s metadata: %w", a.ID, err)
		}
		rec.Metadata = string(meta)
	}
	if err := model.CreateAlertRecord(rec); err != nil {
		return fmt.Errorf("save alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) RecordDetection(ctx context.Context, sessionID string, analysis dao.AnalysisResult, frameSize int) error {
	if !s.recordAll && !analysis.BehaviorDetected {
		return nil
	}
	rec := &model.DetectionRecord{
		SessionId:        sessionID,
		Timestamp:        s.now(),
		PeopleCount:      analysis.PeopleCount,
		BehaviorDetected: analysis.BehaviorDetected,
		Behaviors:        strings.Join(analysis.SuspiciousBehaviors(), ","),
		Confidence:       analysis.Confidence,
		ProcessingTimeMs: analysis.ProcessingTimeMs,
		FrameSize:        frameSize,
	}
	if err := model.CreateDetectionRecord(rec); err != nil {
		return fmt.Errorf("save detection for %s: %w", sessionID, err)
	}
	return nil
}
