package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// VideoFile writes decoded frames, resized to a fixed size, into a video
// container.
type VideoFile struct {
	writer *gocv.VideoWriter
	size   image.Point
}

func OpenVideo(path, codec string, fps float64, width, height int) (*VideoFile, error) {
	writer, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create video writer: %w", err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("video writer for %s is not opened", path)
	}
	return &VideoFile{writer: writer, size: image.Pt(width, height)}, nil
}

func (v *VideoFile) WriteFrame(payload []byte) error {
	img, err := decodeResized(payload, v.size)
	if err != nil {
		return err
	}
	defer img.Close()
	if err := v.writer.Write(img); err != nil {
		return fmt.Errorf("write video frame: %w", err)
	}
	return nil
}

func (v *VideoFile) Close() error {
	return v.writer.Close()
}

// WriteThumbnail stores payload scaled to width x height as an image file.
func WriteThumbnail(payload []byte, path string, width, height int) error {
	img, err := decodeResized(payload, image.Pt(width, height))
	if err != nil {
		return err
	}
	defer img.Close()
	if !gocv.IMWrite(path, img) {
		return fmt.Errorf("write thumbnail %s failed", path)
	}
	return nil
}

func decodeResized(payload []byte, size image.Point) (gocv.Mat, error) {
	img, err := gocv.IMDecode(payload, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), ErrDecode
	}
	if img.Cols() == size.X && img.Rows() == size.Y {
		return img, nil
	}
	resized := gocv.NewMat()
	gocv.Resize(img, &resized, size, 0, 0, gocv.InterpolationLinear)
	img.Close()
	return resized, nil
}
