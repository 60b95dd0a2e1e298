package surveillance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"safevision/internal/alert"
	"safevision/internal/analytics"
	"safevision/internal/analyzer"
	"safevision/internal/archive"
	"safevision/internal/config"
	"safevision/internal/metadata"
	"safevision/internal/model"
	"safevision/internal/monitor"
	"safevision/internal/pipeline"
	"safevision/internal/recording"
	"safevision/internal/server"
	"safevision/internal/session"
	"safevision/internal/vision"
	"safevision/pkg/log"
)

const (
	archiveInterval = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// System owns every long-lived component of a SafeVision process.
type System struct {
	conf   *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry
	wg     sync.WaitGroup

	catalog     *metadata.MetadataDB
	db          *gorm.DB
	nsqProducer *nsq.Producer
	archiver    *archive.Archiver
	dispatcher  *alert.Dispatcher
	monitor     *monitor.Monitor
	processor   *pipeline.Processor
	registry    *session.Registry
	recordings  *recording.Manager
	server      *server.Server
}

func NewSystem(conf *config.Config) (*System, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &System{
		conf:   conf,
		ctx:    ctx,
		cancel: cancel,
		logger: log.ComponentLogger("system"),
	}
	if err := s.build(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *System) build() error {
	conf := s.conf

	catalog, err := metadata.NewMetadataDB(conf.MetadataDir(), s.logger)
	if err != nil {
		return fmt.Errorf("open metadata db: %w", err)
	}
	s.catalog = catalog

	s.dispatcher = alert.NewDispatcher(conf.Alerts.DedupWindow, conf.Alerts.Capacity)

	var sink session.SummarySink
	var detections pipeline.DetectionRecorder
	if conf.Analytics.Enabled {
		db, err := model.InitDB(conf.Analytics.DB)
		if err != nil {
			return fmt.Errorf("init analytics db: %w", err)
		}
		s.db = db
		store := analytics.NewStore(conf.Analytics.RecordDetections)
		s.dispatcher.Subscribe(store)
		sink = store
		detections = store
	}

	if conf.NSQ.Enabled {
		producer, err := archive.NewProducer(conf.NSQ)
		if err != nil {
			return err
		}
		s.nsqProducer = producer
		s.dispatcher.Subscribe(alert.NewNSQSubscriber(producer, conf.NSQ.AlertTopic))
	}

	var recArchiver recording.Archiver
	if conf.S3.Enabled {
		if s.nsqProducer == nil {
			return fmt.Errorf("s3 archive needs nsq to be enabled")
		}
		minioCli, err := archive.NewMinioClient(conf.S3)
		if err != nil {
			return err
		}
		s.archiver = archive.NewArchiver(minioCli, s.nsqProducer, conf.S3.Bucket, conf.NSQ, conf.SnapshotDir(), catalog)
		recArchiver = s.archiver
	}

	s.monitor = monitor.NewMonitor(conf.Monitor, monitor.NewHostSampler(conf.Monitor.DiskPath), s.dispatcher)

	analysis, err := s.newAnalyzer()
	if err != nil {
		return err
	}

	s.processor, err = pipeline.NewProcessor(conf.Pipeline, conf.SnapshotDir(), pipeline.Deps{
		Analyzer:   analysis,
		Validate:   vision.Probe,
		Renderer:   vision.NewAnnotator(),
		Alerts:     s.dispatcher,
		Monitor:    s.monitor,
		Detections: detections,
	})
	if err != nil {
		return err
	}

	s.registry = session.NewRegistry(conf.Sessions, nil, s.processor, sink)
	s.processor.SetTracker(s.registry)

	s.recordings, err = recording.NewManager(conf.RecordingDir(), conf.Recording, catalog, recArchiver)
	if err != nil {
		return err
	}

	s.server = server.NewServer(conf, server.Deps{
		Sessions:   s.registry,
		Pipeline:   s.processor,
		Alerts:     s.dispatcher,
		Monitor:    s.monitor,
		Recordings: s.recordings,
	})
	return nil
}

func (s *System) newAnalyzer() (analyzer.Analyzer, error) {
	if !s.conf.Triton.Enabled {
		s.logger.Warn("triton disabled, every frame is analyzed as no detection")
		return analyzer.Neutral{}, nil
	}
	t, err := analyzer.NewTriton(s.conf.Triton)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := t.Ready(ctx); err != nil {
		s.logger.WithError(err).Warn("triton model not ready yet")
	}
	return t, nil
}

// Start runs the background routines and serves HTTP until Stop.
func (s *System) Start() {
	if s.conf.Monitor.Enabled {
		s.monitor.Start(s.ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.registry.RunReaper(s.ctx, s.server.CloseSession)
	}()

	if s.archiver != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.archiver.Run(s.ctx, archiveInterval)
		}()
	}

	s.server.Start(s.ctx)
}

func (s *System) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.server.Shutdown(ctx)

	if s.processor.IsProcessing() {
		if err := s.processor.StopProcessing(); err != nil {
			s.logger.WithError(err).Warn("stop processing")
		}
	}
	s.recordings.Close()
	s.monitor.Stop()
	s.cancel()
	s.wg.Wait()
	s.release()
	s.logger.Info("system stopped")
}

func (s *System) release() {
	s.cancel()
	if s.nsqProducer != nil {
		s.nsqProducer.Stop()
	}
	if s.catalog != nil {
		s.catalog.Close()
	}
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
