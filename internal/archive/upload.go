package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectStore is the part of *minio.Client the archive uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func contentType(localPath string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(localPath), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "json":
		return "application/json"
	case "mp4":
		return "video/mp4"
	}
	return "application/octet-stream"
}

func uploadFile(ctx context.Context, store ObjectStore, bucket, localPath, objectPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file failed: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("get file info failed: %w", err)
	}

	_, err = store.PutObject(
		ctx,
		bucket,
		strings.TrimPrefix(objectPath, "/"),
		file,
		fileInfo.Size(),
		minio.PutObjectOptions{
			ContentType: contentType(localPath),
		},
	)
	if err != nil {
		return fmt.Errorf("put object to minio failed: %w", err)
	}
	return nil
}
