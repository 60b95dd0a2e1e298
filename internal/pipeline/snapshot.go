package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path"

	"safevision/internal/dao"
	"safevision/internal/frame"
)

// saveSnapshot writes the raw frame of a behavior detection plus its JSON
// sidecar under <snapshotDir>/<session>/. The sidecar is renamed into place
// last, so a sidecar on disk always has its image next to it.
func (p *Processor) saveSnapshot(env *frame.Envelope, analysis dao.AnalysisResult) (string, error) {
	dir := path.Join(p.snapshotDir, sanitize(env.SessionID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	ts := p.now().UnixNano()
	ext := env.Format
	if ext == "" || ext == "jpeg" {
		ext = "jpg"
	}
	imagePath := path.Join(dir, fmt.Sprintf("%d.%s", ts, ext))
	jsonPath := path.Join(dir, fmt.Sprintf("%d.json", ts))

	result := &dao.DetectionResult{
		SessionId: env.SessionID,
		Timestamp: ts,
		ImagePath: imagePath,
		JsonPath:  jsonPath,
		Analysis:  analysis,
	}
	if env.FrameID != nil {
		result.FrameId = *env.FrameID
	}
	jsonData, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal detection result error: %w", err)
	}

	if err := os.WriteFile(imagePath, env.Payload, 0644); err != nil {
		return "", fmt.Errorf("write image file error: %w", err)
	}
	tmpPath := jsonPath + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0644); err != nil {
		os.Remove(imagePath)
		return "", fmt.Errorf("write json file error: %w", err)
	}
	if err := os.Rename(tmpPath, jsonPath); err != nil {
		os.Remove(imagePath)
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename json file error: %w", err)
	}
	return imagePath, nil
}

// sanitize keeps session ids usable as a single path element.
func sanitize(id string) string {
	if id == "" {
		return "unknown"
	}
	out := []byte(id)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
