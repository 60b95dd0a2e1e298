package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"safevision/internal/dao"
)

var (
	red    = color.RGBA{255, 0, 0, 0}
	green  = color.RGBA{0, 255, 0, 0}
	yellow = color.RGBA{255, 255, 0, 0}
	white  = color.RGBA{255, 255, 255, 0}
)

var ErrDecode = errors.New("failed to decode image")

// Annotator draws analysis overlays onto frames and re-encodes them.
type Annotator struct{}

func NewAnnotator() *Annotator {
	return &Annotator{}
}

// Render decodes payload into a new Mat, so the caller's bytes are never
// touched, draws the overlays and encodes the copy.
func (a *Annotator) Render(payload []byte, analysis dao.AnalysisResult, suspicion int, format string, quality int) ([]byte, error) {
	img, err := gocv.IMDecode(payload, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrDecode
	}

	drawOverlays(&img, analysis, suspicion)
	return Encode(img, format, quality)
}

// Encode writes img as jpeg or webp at the given quality.
func Encode(img gocv.Mat, format string, quality int) ([]byte, error) {
	ext := gocv.JPEGFileExt
	params := []int{int(gocv.IMWriteJpegQuality), quality}
	if format == "webp" {
		ext = gocv.FileExt(".webp")
		params = []int{int(gocv.IMWriteWebpQuality), quality}
	}
	buf, err := gocv.IMEncodeWithParams(ext, img, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

func drawOverlays(img *gocv.Mat, analysis dao.AnalysisResult, suspicion int) {
	for i, box := range analysis.Boxes {
		label := "Person"
		if i < len(analysis.Behaviors) {
			label = analysis.Behaviors[i]
		}
		c := BehaviorColor(label)
		gocv.Rectangle(img, image.Rect(box.X1(), box.Y1(), box.X2(), box.Y2()), c, 2)

		labelSize := gocv.GetTextSize(label, gocv.FontHersheySimplex, 0.5, 1)
		gocv.Rectangle(img, image.Rect(box.X1(), box.Y1()-labelSize.Y-10, box.X1()+labelSize.X, box.Y1()), c, -1)
		gocv.PutText(img, label, image.Pt(box.X1(), box.Y1()-5), gocv.FontHersheySimplex, 0.5, color.RGBA{0, 0, 0, 0}, 1)
	}

	gocv.PutText(img, fmt.Sprintf("People: %d", analysis.PeopleCount), image.Pt(10, 30),
		gocv.FontHersheySimplex, 0.7, white, 2)

	sc := green
	if suspicion > 50 {
		sc = red
	}
	gocv.PutText(img, fmt.Sprintf("Suspicion: %d%%", suspicion), image.Pt(10, 60),
		gocv.FontHersheySimplex, 0.7, sc, 2)
}

// BehaviorColor picks the box color for a behavior label such as
// "Person 1: Panicked".
func BehaviorColor(label string) color.RGBA {
	if i := strings.LastIndex(label, ":"); i >= 0 {
		label = label[i+1:]
	}
	switch strings.TrimSpace(label) {
	case "Panicked", "Aggressive":
		return red
	case dao.BehaviorNormal:
		return green
	default:
		return yellow
	}
}
