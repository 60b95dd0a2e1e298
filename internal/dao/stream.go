package dao

const (
	StreamTypeFrame          = "frame"
	StreamTypeProcessedFrame = "processed_frame"
	StreamTypeAnalysisResult = "analysis_result"
	StreamTypeError          = "error"
	StreamTypeSession        = "session"
)

// InboundFrame is the JSON form of a frame pushed by a client.
// Frame holds base64 image bytes, optionally as a data URL.
type InboundFrame struct {
	Type      string   `json:"type,omitempty"`
	Frame     string   `json:"frame"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	FrameId   *string  `json:"frameId,omitempty"`
	Quality   *float64 `json:"quality,omitempty"`
}

type OutboundFrame struct {
	Type      string   `json:"type"`
	Frame     string   `json:"frame"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	FrameId   *string  `json:"frameId,omitempty"`
}

type OutboundAnalysis struct {
	Type string `json:"type"`
	AnalysisResult
}

type OutboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// OutboundSession tells a freshly connected client which session id it got.
type OutboundSession struct {
	Type      string `json:"type"`
	SessionId string `json:"session_id"`
}
