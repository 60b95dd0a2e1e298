package dao

// DetectionResult is the JSON sidecar written next to a behavior snapshot.
type DetectionResult struct {
	SessionId string         `json:"sessionId"`
	FrameId   string         `json:"frameId,omitempty"`
	Timestamp int64          `json:"timestamp"`
	ImagePath string         `json:"imagePath"`
	JsonPath  string         `json:"jsonPath"`
	Analysis  AnalysisResult `json:"analysis"`
}

// DetectionMessage is published to NSQ once a snapshot has been archived.
type DetectionMessage struct {
	SessionId string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	ImagePath string         `json:"imagePath,omitempty"`
	Analysis  AnalysisResult `json:"analysis"`
}

// RecordingMessage is published to NSQ once a finished recording has been archived.
type RecordingMessage struct {
	SessionId     string  `json:"sessionId"`
	Filename      string  `json:"filename"`
	VideoPath     string  `json:"videoPath"`
	ThumbnailPath string  `json:"thumbnailPath,omitempty"`
	FrameCount    int     `json:"frameCount"`
	Duration      float64 `json:"durationSeconds"`
	StartTime     int64   `json:"startTime"`
	EndTime       int64   `json:"endTime"`
}
