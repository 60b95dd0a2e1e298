package model

import (
	"time"
)

type AlertRecord struct {
	Id         int       `gorm:"primaryKey"`
	AlertId    string    `gorm:"type:char(96);index"`
	Type       string    `gorm:"type:char(32);index"`
	Severity   string    `gorm:"type:char(16)"`
	Message    string    `gorm:"type:varchar(512)"`
	Value      float64   `gorm:"type:double"`
	Threshold  float64   `gorm:"type:double"`
	Source     string    `gorm:"type:char(96)"`
	Metadata   string    `gorm:"type:text"`
	Timestamp  time.Time `gorm:"datetime;index"`
	CreateTime time.Time `gorm:"datetime;autoCreateTime"`
}

func CreateAlertRecord(rec *AlertRecord) error {
	return DB.Create(rec).Error
}

func ListAlertRecords(alertType string, offset, limit int) ([]AlertRecord, int64, error) {
	var total int64
	var recs []AlertRecord
	query := DB.Model(&AlertRecord{})
	if alertType != "" {
		query = query.Where("type = ?", alertType)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("timestamp desc").Offset(offset).Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}
