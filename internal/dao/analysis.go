package dao

import "strings"

// Box is a person bounding box as [x1, y1, x2, y2].
type Box [4]int

func (b Box) X1() int { return b[0] }
func (b Box) Y1() int { return b[1] }
func (b Box) X2() int { return b[2] }
func (b Box) Y2() int { return b[3] }

const BehaviorNormal = "Normal"

// AnalysisResult is produced once per frame by the analysis capability.
// Behaviors is parallel to Boxes.
type AnalysisResult struct {
	PeopleCount      int      `json:"people_count"`
	Boxes            []Box    `json:"people_boxes"`
	Behaviors        []string `json:"behaviors"`
	BehaviorDetected bool     `json:"behavior_detected"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs float64  `json:"processing_time_ms,omitempty"`
}

// NeutralAnalysis is the result substituted for a frame whose analysis failed.
func NeutralAnalysis() AnalysisResult {
	return AnalysisResult{
		Boxes:     []Box{},
		Behaviors: []string{},
	}
}

// SuspiciousBehaviors returns the labels that are not normal.
func (r *AnalysisResult) SuspiciousBehaviors() []string {
	var out []string
	for _, b := range r.Behaviors {
		if !IsNormalBehavior(b) {
			out = append(out, b)
		}
	}
	return out
}

// IsNormalBehavior accepts both "Normal" and "Person 2: Normal" style labels.
func IsNormalBehavior(label string) bool {
	if i := strings.LastIndex(label, ":"); i >= 0 {
		label = label[i+1:]
	}
	return strings.TrimSpace(label) == BehaviorNormal
}
