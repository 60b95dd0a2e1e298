package model

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SessionRecord is the persisted summary of one finished client session.
type SessionRecord struct {
	Id              int       `gorm:"primaryKey"`
	SessionId       string    `gorm:"type:char(96);index"`
	StartTime       time.Time `gorm:"datetime"`
	EndTime         time.Time `gorm:"datetime"`
	FramesSent      int64     `gorm:"type:bigint"`
	FramesProcessed int64     `gorm:"type:bigint"`
	AlertsGenerated int64     `gorm:"type:bigint"`
	UserAgent       string    `gorm:"type:varchar(512)"`
	IpAddress       string    `gorm:"type:char(64)"`
	DurationSeconds int64     `gorm:"type:bigint"`
	CreateTime      time.Time `gorm:"datetime;autoCreateTime"`
}

func CreateSessionRecord(rec *SessionRecord) error {
	return DB.Create(rec).Error
}

func GetSessionRecordsBySessionId(sessionId string) ([]SessionRecord, error) {
	var recs []SessionRecord
	err := DB.Where("session_id = ?", sessionId).Order("id desc").Find(&recs).Error
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func GetLatestSessionRecord(sessionId string) (*SessionRecord, error) {
	var rec SessionRecord
	err := DB.Where("session_id = ?", sessionId).Order("id desc").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
