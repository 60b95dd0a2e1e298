package recording

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"safevision/internal/config"
	"safevision/internal/dao"
	"safevision/internal/metrics"
	"safevision/internal/vision"
	"safevision/pkg/log"
)

var (
	ErrRecordingConflict = errors.New("recording already active for this session")
	ErrRecordingNotFound = errors.New("no active recording for this session")
	ErrWriterInit        = errors.New("failed to initialize video writer")
	ErrInvalidFilename   = errors.New("invalid recording filename")
	ErrFileNotFound      = errors.New("recording file not found")
)

const videoExt = ".mp4"

// Writer is an open video file owned by one recording.
type Writer interface {
	WriteFrame(payload []byte) error
	Close() error
}

type WriterFactory func(path, codec string, fps float64, width, height int) (Writer, error)

type Thumbnailer func(payload []byte, path string, width, height int) error

// Catalog persists finished recordings across restarts.
type Catalog interface {
	SetRecording(info *dao.RecordingInfo) error
	GetRecordings() ([]*dao.RecordingInfo, error)
	DeleteRecording(filename string) error
	GetLastArchiveTime() (int64, error)
}

// Archiver ships a finished recording somewhere durable.
type Archiver interface {
	ArchiveRecording(ctx context.Context, info dao.RecordingInfo) error
}

func openVideo(path, codec string, fps float64, width, height int) (Writer, error) {
	return vision.OpenVideo(path, codec, fps, width, height)
}

type recording struct {
	mu     sync.Mutex
	info   dao.RecordingInfo
	writer Writer
	buffer [][]byte
	closed bool
}

// Manager keeps at most one open recording per session.
type Manager struct {
	mu        sync.Mutex
	active    map[string]*recording
	completed map[string]dao.RecordingInfo

	dir       string
	conf      config.RecordingConfig
	newWriter WriterFactory
	thumbnail Thumbnailer
	catalog   Catalog
	archiver  Archiver
	logger    *logrus.Entry
	now       func() time.Time
	wg        sync.WaitGroup
}

func NewManager(dir string, conf config.RecordingConfig, catalog Catalog, archiver Archiver) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	if conf.MaxFrames <= 0 {
		conf.MaxFrames = 1500
	}
	if conf.BufferSize <= 0 {
		conf.BufferSize = 10
	}
	if conf.Codec == "" {
		conf.Codec = "mp4v"
	}
	return &Manager{
		active:    make(map[string]*recording),
		completed: make(map[string]dao.RecordingInfo),
		dir:       dir,
		conf:      conf,
		newWriter: openVideo,
		thumbnail: vision.WriteThumbnail,
		catalog:   catalog,
		archiver:  archiver,
		logger:    log.ComponentLogger("recording"),
		now:       time.Now,
	}, nil
}

// StartRecording opens a new video file for sessionID. Nothing is registered
// when the writer cannot be opened.
func (m *Manager) StartRecording(sessionID string) (dao.RecordingInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[sessionID]; ok {
		return dao.RecordingInfo{}, ErrRecordingConflict
	}

	start := m.now()
	filename := fmt.Sprintf("surveillance_%s_%s%s", filePrefix(sessionID), start.Format("20060102_150405"), videoExt)
	path := filepath.Join(m.dir, filename)
	w, err := m.newWriter(path, m.conf.Codec, m.conf.FPS, m.conf.Width, m.conf.Height)
	if err != nil {
		return dao.RecordingInfo{}, fmt.Errorf("%w: %v", ErrWriterInit, err)
	}

	rec := &recording{
		info: dao.RecordingInfo{
			SessionId: sessionID,
			Filename:  filename,
			Filepath:  path,
			StartTime: start,
			Status:    dao.RecordingStatusRecording,
		},
		writer: w,
		buffer: make([][]byte, 0, m.conf.BufferSize),
	}
	m.active[sessionID] = rec
	metrics.RecordingsActive.Inc()
	m.logger.WithField(log.CtxSessionId, sessionID).Infof("started recording %s", filename)
	return rec.info, nil
}

// AddFrame writes one raw frame. The recording stops by itself once it holds
// the configured maximum number of frames; later calls report
// ErrRecordingNotFound.
func (m *Manager) AddFrame(sessionID string, payload []byte) (bool, error) {
	m.mu.Lock()
	rec, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return false, ErrRecordingNotFound
	}

	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return false, ErrRecordingNotFound
	}
	if err := rec.writer.WriteFrame(payload); err != nil {
		rec.mu.Unlock()
		return false, err
	}
	rec.info.FrameCount++
	if len(rec.buffer) == m.conf.BufferSize {
		rec.buffer = append(rec.buffer[:0], rec.buffer[1:]...)
	}
	rec.buffer = append(rec.buffer, payload)
	full := rec.info.FrameCount >= m.conf.MaxFrames
	if full {
		rec.closed = true
	}
	rec.mu.Unlock()

	if full {
		m.logger.WithField(log.CtxSessionId, sessionID).Infof("recording reached %d frames, stopping", m.conf.MaxFrames)
		if _, err := m.finish(sessionID, rec, true); err != nil {
			m.logger.WithError(err).WithField(log.CtxSessionId, sessionID).Error("failed to auto stop recording")
		}
	}
	return true, nil
}

// StopRecording finalizes the active recording of sessionID.
func (m *Manager) StopRecording(sessionID string) (dao.RecordingInfo, error) {
	m.mu.Lock()
	rec, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return dao.RecordingInfo{}, ErrRecordingNotFound
	}
	return m.finish(sessionID, rec, false)
}

func (m *Manager) finish(sessionID string, rec *recording, auto bool) (dao.RecordingInfo, error) {
	m.mu.Lock()
	if m.active[sessionID] != rec {
		m.mu.Unlock()
		return dao.RecordingInfo{}, ErrRecordingNotFound
	}
	delete(m.active, sessionID)
	m.mu.Unlock()
	metrics.RecordingsActive.Dec()

	rec.mu.Lock()
	rec.closed = true
	closeErr := rec.writer.Close()
	end := m.now()
	info := rec.info
	info.EndTime = &end
	info.DurationSeconds = end.Sub(info.StartTime).Seconds()
	info.AutoStopped = auto
	info.Status = dao.RecordingStatusCompleted
	if closeErr != nil {
		info.Status = dao.RecordingStatusFailed
	}
	var last []byte
	if n := len(rec.buffer); n > 0 {
		last = rec.buffer[n-1]
	}
	rec.buffer = nil
	rec.info = info
	rec.mu.Unlock()

	logger := m.logger.WithField(log.CtxSessionId, sessionID)
	if last != nil && closeErr == nil {
		thumbPath := thumbnailPath(info.Filepath)
		if err := m.thumbnail(last, thumbPath, m.conf.ThumbnailWidth, m.conf.ThumbnailHeight); err != nil {
			logger.WithError(err).Warn("failed to generate thumbnail")
		} else {
			info.ThumbnailPath = thumbPath
		}
	}
	if st, err := os.Stat(info.Filepath); err == nil {
		info.FileSizeMB = toMB(st.Size())
	}

	m.mu.Lock()
	m.completed[sessionID] = info
	m.mu.Unlock()

	if closeErr != nil {
		return info, fmt.Errorf("close video writer: %w", closeErr)
	}
	logger.Infof("stopped recording %s (%d frames, %.1fs)", info.Filename, info.FrameCount, info.DurationSeconds)

	if m.catalog != nil {
		if err := m.catalog.SetRecording(&info); err != nil {
			logger.WithError(err).Error("failed to save recording to catalog")
		}
	}
	if m.archiver != nil && m.conf.Archive {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := m.archiver.ArchiveRecording(ctx, info); err != nil {
				logger.WithError(err).Errorf("failed to archive recording %s", info.Filename)
			}
		}()
	}
	return info, nil
}

// Status reports the live recording of sessionID with its current duration,
// or the last finished one. ok is false when the session never recorded.
func (m *Manager) Status(sessionID string) (dao.RecordingInfo, bool) {
	m.mu.Lock()
	rec, ok := m.active[sessionID]
	done, finished := m.completed[sessionID]
	m.mu.Unlock()

	if ok {
		rec.mu.Lock()
		info := rec.info
		rec.mu.Unlock()
		info.DurationSeconds = m.now().Sub(info.StartTime).Seconds()
		return info, true
	}
	return done, finished
}

func (m *Manager) IsRecording(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[sessionID]
	return ok
}

// List returns every finished recording known in memory, in the catalog or
// on disk, newest first. Files with no record are reported as archived.
func (m *Manager) List() ([]dao.RecordingInfo, error) {
	byName := make(map[string]dao.RecordingInfo)
	if m.catalog != nil {
		stored, err := m.catalog.GetRecordings()
		if err != nil {
			m.logger.WithError(err).Error("failed to read recording catalog")
		}
		for _, info := range stored {
			byName[info.Filename] = *info
		}
	}
	m.mu.Lock()
	for _, info := range m.completed {
		byName[info.Filename] = info
	}
	activeNames := m.activeFilenamesLocked()
	m.mu.Unlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	onDisk := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), videoExt) || activeNames[e.Name()] {
			continue
		}
		onDisk[e.Name()] = true
		if _, ok := byName[e.Name()]; ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		byName[e.Name()] = dao.RecordingInfo{
			Filename:   e.Name(),
			Filepath:   filepath.Join(m.dir, e.Name()),
			StartTime:  fi.ModTime(),
			FileSizeMB: toMB(fi.Size()),
			Status:     dao.RecordingStatusArchived,
		}
	}

	out := make([]dao.RecordingInfo, 0, len(byName))
	for name, info := range byName {
		// records whose file was removed behind our back are not listed
		if !onDisk[name] {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, nil
}

// Path resolves filename inside the recording directory.
func (m *Manager) Path(filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", err
	}
	return path, nil
}

// ThumbnailPath resolves the thumbnail of a recording file.
func (m *Manager) ThumbnailPath(filename string) (string, error) {
	if err := validateFilename(filename); err != nil {
		return "", err
	}
	path := thumbnailPath(filepath.Join(m.dir, filename))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrFileNotFound
		}
		return "", err
	}
	return path, nil
}

// StorageInfo sums up the video files in the recording directory.
func (m *Manager) StorageInfo() (dao.StorageInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return dao.StorageInfo{}, fmt.Errorf("read recording dir: %w", err)
	}
	info := dao.StorageInfo{Directory: m.dir}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), videoExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.FileCount++
		total += fi.Size()
	}
	info.TotalSizeMB = toMB(total)

	if m.catalog != nil {
		ts, err := m.catalog.GetLastArchiveTime()
		if err != nil {
			m.logger.WithError(err).Warn("failed to read last archive time")
		} else if ts > 0 {
			info.LastArchiveTime = &ts
		}
	}
	return info, nil
}

// Delete removes a finished recording, its thumbnail and every record of it.
func (m *Manager) Delete(filename string) error {
	path, err := m.Path(filename)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.activeFilenamesLocked()[filename] {
		m.mu.Unlock()
		return ErrRecordingConflict
	}
	for sid, info := range m.completed {
		if info.Filename == filename {
			delete(m.completed, sid)
		}
	}
	m.mu.Unlock()

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete recording: %w", err)
	}
	if err := os.Remove(thumbnailPath(path)); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).Warnf("failed to delete thumbnail of %s", filename)
	}
	if m.catalog != nil {
		if err := m.catalog.DeleteRecording(filename); err != nil {
			m.logger.WithError(err).Warnf("failed to delete %s from catalog", filename)
		}
	}
	m.logger.Infof("recording %s deleted", filename)
	return nil
}

// Cleanup deletes finished recordings whose file is older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) (dao.CleanupResult, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return dao.CleanupResult{}, fmt.Errorf("cleanup failed: %w", err)
	}
	cutoff := m.now().Add(-maxAge)

	var res dao.CleanupResult
	var freed int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), videoExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil || !fi.ModTime().Before(cutoff) {
			continue
		}
		if err := m.Delete(e.Name()); err != nil {
			if !errors.Is(err, ErrRecordingConflict) {
				m.logger.WithError(err).Warnf("failed to clean up %s", e.Name())
			}
			continue
		}
		res.DeletedCount++
		freed += fi.Size()
	}
	res.FreedMB = toMB(freed)
	return res, nil
}

// Close stops every active recording and waits for pending archive uploads.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.StopRecording(id); err != nil && !errors.Is(err, ErrRecordingNotFound) {
			m.logger.WithError(err).WithField(log.CtxSessionId, id).Error("failed to stop recording on close")
		}
	}
	m.wg.Wait()
}

func (m *Manager) activeFilenamesLocked() map[string]bool {
	names := make(map[string]bool, len(m.active))
	for _, rec := range m.active {
		names[rec.info.Filename] = true
	}
	return names
}

func validateFilename(filename string) error {
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) || !strings.HasSuffix(filename, videoExt) {
		return ErrInvalidFilename
	}
	return nil
}

func thumbnailPath(videoPath string) string {
	return strings.TrimSuffix(videoPath, videoExt) + "_thumb.jpg"
}

// filePrefix is the first 8 characters of the session id, made safe for a
// file name.
func filePrefix(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	out := []byte(sessionID)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func toMB(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}
