package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"safevision/internal/frame"
)

// Probe decodes payload in full and reports its format. It is the
// frame.Validator used at ingestion, so a frame whose header parses but whose
// body is truncated or corrupt never reaches a queue.
func Probe(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: empty payload", frame.ErrInvalidFrame)
	}
	img, format, err := image.Decode(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", frame.ErrInvalidFrame, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("%w: image has no pixels", frame.ErrInvalidFrame)
	}
	return format, nil
}
