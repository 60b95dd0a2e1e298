package config

import (
	"fmt"
	"os"
	"path"
	"time"
)

const defaultSqlDsn = "root:123456@tcp(127.0.0.1:3306)/safevision?charset=utf8mb4&parseTime=True&loc=Local"

type DBConfig struct {
	DSN          string `yaml:"dsn"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxLifetime  int    `yaml:"maxLifetime"`
}

type PipelineConfig struct {
	QueueSize      int           `yaml:"queueSize"`
	DropPolicy     string        `yaml:"dropPolicy"`
	DequeueTimeout time.Duration `yaml:"dequeueTimeout"`
	StopTimeout    time.Duration `yaml:"stopTimeout"`
	DeliveryFormat string        `yaml:"deliveryFormat"`
	Quality        int           `yaml:"quality"`
	SaveSnapshots  bool          `yaml:"saveSnapshots"`
}

type SessionConfig struct {
	MaxConcurrent int           `yaml:"maxConcurrent"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	ReapInterval  time.Duration `yaml:"reapInterval"`
}

type AlertConfig struct {
	DedupWindow time.Duration `yaml:"dedupWindow"`
	Capacity    int           `yaml:"capacity"`
}

type Threshold struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

type MonitorConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	Interval    time.Duration        `yaml:"interval"`
	HistorySize int                  `yaml:"historySize"`
	DiskPath    string               `yaml:"diskPath"`
	Thresholds  map[string]Threshold `yaml:"thresholds"`
}

type RecordingConfig struct {
	FPS             float64 `yaml:"fps"`
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	Codec           string  `yaml:"codec"`
	MaxFrames       int     `yaml:"maxFrames"`
	BufferSize      int     `yaml:"bufferSize"`
	ThumbnailWidth  int     `yaml:"thumbnailWidth"`
	ThumbnailHeight int     `yaml:"thumbnailHeight"`
	Archive         bool    `yaml:"archive"`
}

type TritonConfig struct {
	Enabled      bool           `yaml:"enabled"`
	ServerAddr   string         `yaml:"serverAddr"`
	ModelName    string         `yaml:"modelName"`
	ModelVersion string         `yaml:"modelVersion"`
	Timeout      time.Duration  `yaml:"timeout"`
	Labels       map[int]string `yaml:"labels"`
}

type NSQConfig struct {
	Enabled        bool   `yaml:"enabled"`
	NSQDAddr       string `yaml:"nsqdAddr"`
	DetectionTopic string `yaml:"detectionTopic"`
	AlertTopic     string `yaml:"alertTopic"`
	RecordingTopic string `yaml:"recordingTopic"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	Region          string `yaml:"region"`
}

func (s3 *S3Config) UrlPrefix() string {
	if s3.UseSSL {
		return fmt.Sprintf("https://%s/%s", s3.Endpoint, s3.Bucket)
	}
	return fmt.Sprintf("http://%s/%s", s3.Endpoint, s3.Bucket)
}

type AnalyticsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	RecordDetections bool     `yaml:"recordDetections"`
	DB               DBConfig `yaml:"db"`
}

type Config struct {
	Addr      string          `yaml:"addr"`
	SSLCert   string          `yaml:"sslCert"`
	SSLKey    string          `yaml:"sslKey"`
	WorkDir   string          `yaml:"workDir"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Recording RecordingConfig `yaml:"recording"`
	Triton    TritonConfig    `yaml:"triton"`
	NSQ       NSQConfig       `yaml:"nsq"`
	S3        S3Config        `yaml:"s3"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

func (c Config) SnapshotDir() string {
	return path.Join(c.WorkDir, "detected_behaviors")
}

func (c Config) RecordingDir() string {
	return path.Join(c.WorkDir, "recordings")
}

func (c Config) MetadataDir() string {
	return path.Join(c.WorkDir, "data")
}

func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"cpu_percent":    {Warning: 80, Critical: 95},
		"memory_percent": {Warning: 85, Critical: 95},
		"disk_percent":   {Warning: 90, Critical: 98},
		"queue_size":     {Warning: 8, Critical: 10},
		"processing_lag": {Warning: 2, Critical: 5},
	}
}

func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		DSN:          defaultSqlDsn,
		MaxIdleConns: 10,
		MaxOpenConns: 100,
		MaxLifetime:  60,
	}
}

func DefaultConfig() *Config {
	cfg := &Config{
		Addr: "127.0.0.1:5000",
		Pipeline: PipelineConfig{
			QueueSize:      10,
			DropPolicy:     "newest",
			DequeueTimeout: time.Second,
			StopTimeout:    5 * time.Second,
			DeliveryFormat: "jpeg",
			Quality:        80,
			SaveSnapshots:  true,
		},
		Sessions: SessionConfig{
			MaxConcurrent: 10,
			IdleTimeout:   30 * time.Minute,
			ReapInterval:  5 * time.Minute,
		},
		Alerts: AlertConfig{
			DedupWindow: 300 * time.Second,
			Capacity:    100,
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			Interval:    10 * time.Second,
			HistorySize: 288,
			DiskPath:    "/",
			Thresholds:  DefaultThresholds(),
		},
		Recording: RecordingConfig{
			FPS:             5,
			Width:           640,
			Height:          480,
			Codec:           "mp4v",
			MaxFrames:       1500,
			BufferSize:      10,
			ThumbnailWidth:  160,
			ThumbnailHeight: 120,
		},
		Triton: TritonConfig{
			ServerAddr:   "localhost:8001",
			ModelName:    "behavior_detector",
			ModelVersion: "1",
			Timeout:      5 * time.Second,
			Labels: map[int]string{
				0: "Normal",
				1: "Panicked",
				2: "Aggressive",
				3: "Loitering",
			},
		},
		NSQ: NSQConfig{
			NSQDAddr:       "localhost:4150",
			DetectionTopic: "safevision_detections",
			AlertTopic:     "safevision_alerts",
			RecordingTopic: "safevision_recordings",
		},
		S3: S3Config{
			Bucket:   "safevision",
			Endpoint: "localhost:9000",
			UseSSL:   false,
			Region:   "us-east-1",
		},
		Analytics: AnalyticsConfig{
			DB: *DefaultDBConfig(),
		},
	}

	dataDir := os.Getenv("SAFEVISION_DATA")
	if dataDir != "" {
		cfg.WorkDir = dataDir
	} else {
		cfg.WorkDir = "./safevision_data"
	}

	return cfg
}

func LoadConfig(configPath string) (*Config, error) {
	conf := DefaultConfig()
	if err := LoadYAMLConfig(configPath, conf); err != nil {
		return nil, err
	}
	if conf.Pipeline.QueueSize <= 0 {
		return nil, fmt.Errorf("pipeline.queueSize must be positive, got %d", conf.Pipeline.QueueSize)
	}
	if conf.Recording.MaxFrames <= 0 {
		return nil, fmt.Errorf("recording.maxFrames must be positive, got %d", conf.Recording.MaxFrames)
	}
	// thresholds given in the file only override the metrics they name
	merged := DefaultThresholds()
	for metric, t := range conf.Monitor.Thresholds {
		merged[metric] = t
	}
	conf.Monitor.Thresholds = merged
	return conf, nil
}
