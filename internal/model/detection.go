package model

import (
	"time"
)

// DetectionRecord is one analyzed frame.
type DetectionRecord struct {
	Id               int       `gorm:"primaryKey"`
	SessionId        string    `gorm:"type:char(96);index"`
	Timestamp        time.Time `gorm:"datetime;index"`
	PeopleCount      int       `gorm:"type:int"`
	BehaviorDetected bool      `gorm:"type:bool"`
	Behaviors        string    `gorm:"type:varchar(512)"`
	Confidence       float64   `gorm:"type:double"`
	ProcessingTimeMs float64   `gorm:"type:double"`
	FrameSize        int       `gorm:"type:int"`
}

func CreateDetectionRecord(rec *DetectionRecord) error {
	return DB.Create(rec).Error
}

func CountBehaviorDetections(sessionId string, since time.Time) (int64, error) {
	var total int64
	err := DB.Model(&DetectionRecord{}).
		Where("session_id = ? AND behavior_detected = ? AND timestamp >= ?", sessionId, true, since).
		Count(&total).Error
	return total, err
}
