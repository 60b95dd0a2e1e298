package alert

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeCPU           Type = "cpu"
	TypeMemory        Type = "memory"
	TypeDisk          Type = "disk"
	TypeQueueSize     Type = "queue_size"
	TypeProcessingLag Type = "processing_lag"
	TypeBehavior      Type = "behavior"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SourceSystem is the source of every performance alert.
const SourceSystem = "system"

// Alert is immutable once raised.
type Alert struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Value     float64        `json:"value"`
	Threshold float64        `json:"threshold"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type dedupKey struct {
	typ      Type
	severity Severity
	source   string
}

func (a *Alert) key() dedupKey {
	source := a.Source
	if source == "" {
		source = SourceSystem
	}
	return dedupKey{typ: a.Type, severity: a.Severity, source: source}
}

func newID(t Type, ts time.Time) string {
	return fmt.Sprintf("%s_%d", t, ts.UnixMilli())
}
