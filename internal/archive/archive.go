package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/pkg/log"
)

// Publisher is the part of *nsq.Producer the archive uses.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Marker remembers when the last archive pass moved something.
type Marker interface {
	SetLastArchiveTime(t int64) error
}

// Archiver moves behavior snapshots and finished recordings to object storage
// and announces them on NSQ.
type Archiver struct {
	store       ObjectStore
	producer    Publisher
	bucket      string
	nsq         config.NSQConfig
	snapshotDir string
	marker      Marker
	logger      *logrus.Entry
}

func NewArchiver(store ObjectStore, producer Publisher, bucket string, nsqConf config.NSQConfig,
	snapshotDir string, marker Marker) *Archiver {
	return &Archiver{
		store:       store,
		producer:    producer,
		bucket:      bucket,
		nsq:         nsqConf,
		snapshotDir: snapshotDir,
		marker:      marker,
		logger:      log.ComponentLogger("archive"),
	}
}

// NewMinioClient builds the object store client from the s3 section.
func NewMinioClient(conf config.S3Config) (*minio.Client, error) {
	region := conf.Region
	if region == "" {
		region = "us-east-1"
	}
	cli, err := minio.New(conf.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKeyID, conf.SecretAccessKey, ""),
		Secure: conf.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}
	return cli, nil
}

func NewProducer(conf config.NSQConfig) (*nsq.Producer, error) {
	producer, err := nsq.NewProducer(conf.NSQDAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create NSQ producer failed: %w", err)
	}
	return producer, nil
}

// Run uploads pending snapshots every interval until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.UploadSnapshots(ctx); err != nil {
			a.logger.WithError(err).Errorf("list and upload failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// UploadSnapshots walks the snapshot directory and, for every complete
// snapshot, uploads the image, publishes a detection message and removes the
// local files. Failures leave the files for the next pass.
func (a *Archiver) UploadSnapshots(ctx context.Context) error {
	if _, err := os.Stat(a.snapshotDir); os.IsNotExist(err) {
		return nil
	}
	archived := 0
	err := filepath.WalkDir(a.snapshotDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			return nil
		}

		jsonData, err := os.ReadFile(path)
		if err != nil {
			a.logger.WithError(err).Errorf("read JSON file %s failed", path)
			return nil
		}
		var result dao.DetectionResult
		if err := json.Unmarshal(jsonData, &result); err != nil {
			a.logger.WithError(err).Errorf("unmarshal JSON file %s failed", path)
			return nil
		}

		imgPath := result.ImagePath
		if imgPath == "" {
			imgPath = strings.TrimSuffix(path, ".json") + ".jpg"
		}

		var ts time.Time
		if result.Timestamp != 0 {
			ts = time.Unix(0, result.Timestamp)
		} else if info, err := d.Info(); err == nil {
			ts = info.ModTime()
		} else {
			ts = time.Now()
		}
		objectPath := fmt.Sprintf("/snapshots/%04d/%02d/%02d/%s/%s",
			ts.Year(), ts.Month(), ts.Day(), filepath.Base(filepath.Dir(path)), filepath.Base(imgPath))

		uploadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := uploadFile(uploadCtx, a.store, a.bucket, imgPath, objectPath); err != nil {
			a.logger.WithError(err).Errorf("upload image %s to minio failed", imgPath)
			return nil
		}

		msg := &dao.DetectionMessage{
			SessionId: result.SessionId,
			Timestamp: ts.UnixNano(),
			ImagePath: objectPath,
			Analysis:  result.Analysis,
		}
		msgData, _ := json.Marshal(msg)
		if err := a.producer.Publish(a.nsq.DetectionTopic, msgData); err != nil {
			a.logger.WithError(err).Errorf("publish to NSQ failed for %s", path)
			return nil
		}

		os.Remove(path)
		os.Remove(imgPath)
		archived++
		a.logger.Infof("archived snapshot %s to %s", path, objectPath)
		return nil
	})
	if archived > 0 && a.marker != nil {
		if merr := a.marker.SetLastArchiveTime(time.Now().Unix()); merr != nil {
			a.logger.WithError(merr).Warn("save last archive time failed")
		}
	}
	return err
}

// ArchiveRecording uploads a finished recording and its thumbnail and
// publishes a recording message. The local files are kept.
func (a *Archiver) ArchiveRecording(ctx context.Context, info dao.RecordingInfo) error {
	prefix := fmt.Sprintf("/recordings/%04d/%02d/%02d",
		info.StartTime.Year(), info.StartTime.Month(), info.StartTime.Day())
	videoObject := prefix + "/" + info.Filename
	thumbObject := ""
	if info.ThumbnailPath != "" {
		thumbObject = prefix + "/" + filepath.Base(info.ThumbnailPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return uploadFile(gctx, a.store, a.bucket, info.Filepath, videoObject)
	})
	if thumbObject != "" {
		g.Go(func() error {
			return uploadFile(gctx, a.store, a.bucket, info.ThumbnailPath, thumbObject)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload recording %s: %w", info.Filename, err)
	}

	msg := &dao.RecordingMessage{
		SessionId:     info.SessionId,
		Filename:      info.Filename,
		VideoPath:     videoObject,
		ThumbnailPath: thumbObject,
		FrameCount:    info.FrameCount,
		Duration:      info.DurationSeconds,
		StartTime:     info.StartTime.UnixNano(),
	}
	if info.EndTime != nil {
		msg.EndTime = info.EndTime.UnixNano()
	}
	msgData, _ := json.Marshal(msg)
	if err := a.producer.Publish(a.nsq.RecordingTopic, msgData); err != nil {
		return fmt.Errorf("publish recording %s to NSQ: %w", info.Filename, err)
	}
	a.logger.Infof("archived recording %s", info.Filename)
	return nil
}
