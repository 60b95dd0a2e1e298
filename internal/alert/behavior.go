package alert

import (
	"fmt"
	"strings"

	"safevision/internal/dao"
)

// Behavior builds the alert raised when a frame of sessionID shows
// suspicious behavior. More than one suspicious person makes it critical.
func Behavior(sessionID string, analysis dao.AnalysisResult) Alert {
	suspicious := analysis.SuspiciousBehaviors()
	severity := SeverityWarning
	if len(suspicious) > 1 {
		severity = SeverityCritical
	}
	return Alert{
		Type:      TypeBehavior,
		Severity:  severity,
		Message:   fmt.Sprintf("Suspicious behaviors detected: %s", strings.Join(suspicious, ", ")),
		Value:     analysis.Confidence,
		Threshold: 0,
		Source:    sessionID,
		Metadata: map[string]any{
			"people_count": analysis.PeopleCount,
			"behaviors":    analysis.Behaviors,
			"confidence":   analysis.Confidence,
		},
	}
}
