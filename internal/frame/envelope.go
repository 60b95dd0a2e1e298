package frame

import (
	"errors"
	"time"

	"safevision/internal/dao"
)

var ErrInvalidFrame = errors.New("invalid frame")

// Envelope wraps one raw frame and its metadata. It is not modified after it
// has been handed to a queue.
type Envelope struct {
	SessionID   string
	Payload     []byte
	Format      string
	Timestamp   *float64
	FrameID     *string
	QualityHint *float64
	ReceivedAt  time.Time
}

// Quality maps the client hint in [0,1] onto an encoder quality, falling back
// to def when no usable hint was sent.
func (e *Envelope) Quality(def int) int {
	if e.QualityHint == nil {
		return def
	}
	q := *e.QualityHint
	if q <= 0 || q > 1 {
		return def
	}
	return int(q*100 + 0.5)
}

// ProcessedFrame is the worker's output for one envelope.
type ProcessedFrame struct {
	SessionID string
	Encoded   []byte
	Format    string
	Analysis  dao.AnalysisResult
	Timestamp *float64
	FrameID   *string
}
