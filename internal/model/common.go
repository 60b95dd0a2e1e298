package model

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"safevision/internal/config"
)

var DB *gorm.DB

func InitDB(dbConfig config.DBConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dbConfig.DSN), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Second * time.Duration(dbConfig.MaxLifetime))

	DB = db

	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionRecord{}, &AlertRecord{}, &DetectionRecord{})
}

// InsertTestData seeds one finished session with a detection and an alert.
func InsertTestData(db *gorm.DB) error {
	start := time.Now().Add(-10 * time.Minute)
	return db.Transaction(func(tx *gorm.DB) error {
		sess := &SessionRecord{
			SessionId:       "test-session",
			StartTime:       start,
			EndTime:         start.Add(5 * time.Minute),
			FramesSent:      100,
			FramesProcessed: 95,
			AlertsGenerated: 1,
			UserAgent:       "updatedb",
			IpAddress:       "127.0.0.1",
			DurationSeconds: 300,
		}
		if err := tx.Create(sess).Error; err != nil {
			return err
		}
		det := &DetectionRecord{
			SessionId:        sess.SessionId,
			Timestamp:        start.Add(time.Minute),
			PeopleCount:      2,
			BehaviorDetected: true,
			Behaviors:        "Loitering",
			Confidence:       0.82,
			ProcessingTimeMs: 41.5,
			FrameSize:        32768,
		}
		if err := tx.Create(det).Error; err != nil {
			return err
		}
		return tx.Create(&AlertRecord{
			AlertId:   "behavior_" + start.Format("20060102150405"),
			Type:      "behavior",
			Severity:  "warning",
			Message:   "Suspicious behaviors detected: Loitering",
			Value:     0.82,
			Source:    sess.SessionId,
			Timestamp: start.Add(time.Minute),
		}).Error
	})
}
